package knowledge

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"
)

// GVKG binary format, version 1. All numbers are little-endian; strings are
// u32 length-prefixed with no terminator.
var gvkgMagic = [4]byte{'G', 'V', 'K', 'G'}

const gvkgVersion = 1

// ErrBadFormat is returned when a stream is not a valid GVKG v1 graph.
var ErrBadFormat = errors.New("malformed knowledge graph stream")

type gvkgWriter struct {
	w   *bufio.Writer
	err error
}

func (e *gvkgWriter) write(v any) {
	if e.err != nil {
		return
	}
	e.err = binary.Write(e.w, binary.LittleEndian, v)
}

func (e *gvkgWriter) writeString(s string) {
	e.write(uint32(len(s)))
	if e.err != nil {
		return
	}
	_, e.err = e.w.WriteString(s)
}

func (e *gvkgWriter) writeProperties(props Properties) {
	e.write(uint32(len(props)))
	for _, prop := range props {
		e.writeString(prop.Key)
		e.writeString(prop.Value)
	}
}

// Save serializes the graph. The shared lock is held for the duration, so
// concurrent reads proceed but mutations wait.
func (g *Graph) Save(w io.Writer) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	bw := bufio.NewWriter(w)
	e := &gvkgWriter{w: bw}

	e.write(gvkgMagic)
	e.write(uint32(gvkgVersion))
	e.write(uint32(g.cfg.EmbeddingDim))
	e.write(float32(g.cfg.SimilarityThreshold))
	e.write(float32(g.cfg.LinkPredictionThreshold))
	e.write(uint64(len(g.entities)))
	e.write(uint64(len(g.relations)))
	e.write(g.nextEntityID)
	e.write(g.nextRelationID)

	// Sorted ids keep the stream deterministic; readers accept any order.
	entityIDs := make([]uint64, 0, len(g.entities))
	for id := range g.entities {
		entityIDs = append(entityIDs, id)
	}
	sort.Slice(entityIDs, func(i, j int) bool { return entityIDs[i] < entityIDs[j] })
	for _, id := range entityIDs {
		ent := g.entities[id]
		e.write(ent.ID)
		e.writeString(ent.Name)
		e.writeString(ent.Type)
		if len(ent.Embedding) == g.cfg.EmbeddingDim {
			e.write(uint8(1))
			e.write(ent.Embedding)
		} else {
			e.write(uint8(0))
		}
		e.write(ent.Confidence)
		e.write(uint64(ent.CreatedAt.Unix()))
		e.writeProperties(ent.Properties)
	}

	relationIDs := make([]uint64, 0, len(g.relations))
	for id := range g.relations {
		relationIDs = append(relationIDs, id)
	}
	sort.Slice(relationIDs, func(i, j int) bool { return relationIDs[i] < relationIDs[j] })
	for _, id := range relationIDs {
		rel := g.relations[id]
		e.write(rel.ID)
		e.write(rel.Subject)
		e.write(rel.Object)
		e.writeString(rel.Predicate)
		e.write(rel.Weight)
		e.write(uint64(rel.CreatedAt.Unix()))
		e.writeProperties(rel.Properties)
	}

	if e.err != nil {
		return fmt.Errorf("encode graph: %w", e.err)
	}
	return bw.Flush()
}

type gvkgReader struct {
	r   io.Reader
	err error
}

func (d *gvkgReader) read(v any) {
	if d.err != nil {
		return
	}
	d.err = binary.Read(d.r, binary.LittleEndian, v)
}

// maxStringLen bounds length prefixes so a corrupt stream cannot trigger a
// huge allocation.
const maxStringLen = 16 << 20

func (d *gvkgReader) readString() string {
	var n uint32
	d.read(&n)
	if d.err != nil {
		return ""
	}
	if n > maxStringLen {
		d.err = ErrBadFormat
		return ""
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		d.err = err
		return ""
	}
	return string(buf)
}

func (d *gvkgReader) readProperties() Properties {
	var n uint32
	d.read(&n)
	if d.err != nil || n == 0 {
		return nil
	}
	if n > maxStringLen {
		d.err = ErrBadFormat
		return nil
	}
	props := make(Properties, 0, n)
	for i := uint32(0); i < n; i++ {
		key := d.readString()
		value := d.readString()
		if d.err != nil {
			return nil
		}
		props = append(props, Property{Key: key, Value: value})
	}
	return props
}

// Load reconstructs a graph from a GVKG v1 stream, rebuilding the SPO
// indexes and the embedding arena. Failure is atomic: on any decode error
// nothing is returned.
func Load(r io.Reader) (*Graph, error) {
	d := &gvkgReader{r: bufio.NewReader(r)}

	var magic [4]byte
	d.read(&magic)
	if d.err != nil || magic != gvkgMagic {
		return nil, ErrBadFormat
	}
	var version uint32
	d.read(&version)
	if d.err != nil || version != gvkgVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, version)
	}

	var dim uint32
	var simThreshold, linkThreshold float32
	var entityCount, relationCount, nextEntityID, nextRelationID uint64
	d.read(&dim)
	d.read(&simThreshold)
	d.read(&linkThreshold)
	d.read(&entityCount)
	d.read(&relationCount)
	d.read(&nextEntityID)
	d.read(&nextRelationID)
	if d.err != nil {
		return nil, fmt.Errorf("decode header: %w", d.err)
	}

	g := NewGraph(Config{
		EmbeddingDim:            int(dim),
		SimilarityThreshold:     float64(simThreshold),
		LinkPredictionThreshold: float64(linkThreshold),
	})
	g.nextEntityID = nextEntityID
	g.nextRelationID = nextRelationID

	for i := uint64(0); i < entityCount; i++ {
		ent := &Entity{}
		d.read(&ent.ID)
		ent.Name = d.readString()
		ent.Type = d.readString()
		var hasEmbedding uint8
		d.read(&hasEmbedding)
		if d.err == nil && hasEmbedding == 1 {
			ent.Embedding = make([]float32, dim)
			d.read(ent.Embedding)
		}
		d.read(&ent.Confidence)
		var createdAt uint64
		d.read(&createdAt)
		ent.CreatedAt = time.Unix(int64(createdAt), 0).UTC()
		ent.Properties = d.readProperties()
		if d.err != nil {
			return nil, fmt.Errorf("decode entity %d: %w", i, d.err)
		}
		if math.IsNaN(float64(ent.Confidence)) {
			return nil, ErrBadFormat
		}
		g.entities[ent.ID] = ent
		if len(ent.Embedding) > 0 {
			g.embeddings = append(g.embeddings, ent.Embedding...)
			g.embeddingIDs = append(g.embeddingIDs, ent.ID)
		}
	}

	for i := uint64(0); i < relationCount; i++ {
		rel := &Relation{}
		d.read(&rel.ID)
		d.read(&rel.Subject)
		d.read(&rel.Object)
		rel.Predicate = d.readString()
		d.read(&rel.Weight)
		var createdAt uint64
		d.read(&createdAt)
		rel.CreatedAt = time.Unix(int64(createdAt), 0).UTC()
		rel.Properties = d.readProperties()
		if d.err != nil {
			return nil, fmt.Errorf("decode relation %d: %w", i, d.err)
		}
		if _, ok := g.entities[rel.Subject]; !ok {
			return nil, fmt.Errorf("%w: relation %d references missing subject", ErrBadFormat, rel.ID)
		}
		if _, ok := g.entities[rel.Object]; !ok {
			return nil, fmt.Errorf("%w: relation %d references missing object", ErrBadFormat, rel.ID)
		}
		g.relations[rel.ID] = rel
		g.subjectIndex[rel.Subject] = append(g.subjectIndex[rel.Subject], rel.ID)
		g.objectIndex[rel.Object] = append(g.objectIndex[rel.Object], rel.ID)
		ph := predicateHash(rel.Predicate)
		g.predicateIndex[ph] = append(g.predicateIndex[ph], rel.ID)
	}

	return g, nil
}

// SaveFile writes the graph to path, truncating any existing file.
func (g *Graph) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create graph file: %w", err)
	}
	if err := g.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads a graph from path.
func LoadFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open graph file: %w", err)
	}
	defer f.Close()
	return Load(f)
}
