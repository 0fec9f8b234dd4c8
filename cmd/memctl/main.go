// memctl runs the full memory pipeline end to end against the in-memory
// vector database: extract facts from a conversation, search them, link
// them, consolidate near-duplicates, and mirror entities into the
// knowledge graph.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/Protocol-Lattice/go-memory/pkg/contextgraph"
	"github.com/Protocol-Lattice/go-memory/pkg/embed"
	"github.com/Protocol-Lattice/go-memory/pkg/knowledge"
	"github.com/Protocol-Lattice/go-memory/pkg/memory"
	"github.com/Protocol-Lattice/go-memory/pkg/models"
)

func main() {
	var (
		dim       = flag.Int("dim", 768, "Embedding dimension for the in-memory database")
		topK      = flag.Int("k", 3, "Number of results per search")
		threshold = flag.Float64("consolidation-threshold", 0.85, "Similarity threshold for consolidation")
		query     = flag.String("query", "where does the user live?", "Search query to run after ingestion")
		graphPath = flag.String("graph", "", "Optional path to persist the knowledge graph snapshot")
	)
	flag.Parse()

	ctx := context.Background()

	embedder := embed.Auto()
	llm, err := models.AutoLLM(ctx)
	if err != nil {
		log.Fatalf("select model: %v", err)
	}

	graph := contextgraph.NewGraph(contextgraph.DefaultConfig()).
		WithEmbedder(embedder).
		WithLLM(llm)

	layer := memory.NewLayer(memory.NewInMemoryDB(*dim), memory.DefaultConfig()).
		WithEmbedder(embedder).
		WithLLM(llm).
		WithContextGraph(graph)

	conversation := strings.Join([]string{
		"user: Hi, I'm Dana. I live in Porto and work at Vetra Labs.",
		"assistant: Nice to meet you, Dana!",
		"user: I prefer morning meetings and I dislike long email threads.",
		"user: My colleague Rui knows the deployment pipeline inside out.",
	}, "\n")

	ids, err := layer.ExtractAndStore(ctx, conversation, "session-1", false)
	if err != nil {
		log.Fatalf("extract and store: %v", err)
	}
	fmt.Printf("stored %d memories\n", len(ids))
	for _, id := range ids {
		mem, err := layer.Get(ctx, id)
		if err != nil {
			log.Fatalf("get %s: %v", id, err)
		}
		fmt.Printf("  %-8s [%s] %.2f %s\n", mem.ID, mem.Type, mem.Importance, mem.Content)
	}

	results, err := layer.SearchText(ctx, *query, *topK)
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	fmt.Printf("\nsearch %q\n", *query)
	for _, res := range results {
		fmt.Printf("  %.3f %s\n", res.Relevance, res.Content)
	}

	if len(ids) >= 2 {
		if err := layer.CreateLink(ctx, ids[0], ids[1], memory.LinkExtends, 0.8, "same conversation"); err != nil {
			log.Fatalf("link: %v", err)
		}
		links, _ := layer.GetLinks(ctx, ids[0])
		fmt.Printf("\nlinks on %s\n", ids[0])
		for _, link := range links {
			fmt.Printf("  -> %s (%s, strength %.2f)\n", link.TargetID, link.Type, link.Strength)
		}
	}

	merged, err := layer.Consolidate(ctx, *threshold, memory.StrategyMerge)
	if err != nil {
		log.Fatalf("consolidate: %v", err)
	}
	count, _ := layer.Count(ctx)
	fmt.Printf("\nconsolidated %d pairs, %d memories remain\n", merged, count)

	// Mirror the context graph's entities into the knowledge graph so the
	// heavier analytics (similarity search, traversal, link prediction)
	// have data to work on.
	kg := knowledge.NewGraph(knowledge.Config{EmbeddingDim: *dim})
	entities, relationships := graph.Counts()
	seedKnowledgeGraph(ctx, kg, graph, embedder)
	stats := kg.Stats()
	fmt.Printf("\ncontext graph: %d entities, %d relationships\n", entities, relationships)
	fmt.Printf("knowledge graph: %d entities, %d relations, %d embeddings\n",
		stats.EntityCount, stats.RelationCount, stats.EmbeddingCount)

	if *graphPath != "" {
		if err := kg.SaveFile(*graphPath); err != nil {
			log.Fatalf("save graph: %v", err)
		}
		fmt.Printf("knowledge graph saved to %s\n", *graphPath)
	}

	snap := layer.Metrics().Snapshot()
	fmt.Printf("\nmetrics: added=%d searched=%d consolidated=%d links=%d fallbacks=%d\n",
		snap.Added, snap.Searched, snap.Consolidated, snap.Links, snap.ExtractionFallbacks)
}

// seedKnowledgeGraph copies every scoped entity and relationship from the
// context graph into the knowledge graph, resolving names to stable ids.
func seedKnowledgeGraph(ctx context.Context, kg *knowledge.Graph, cg *contextgraph.Graph, embedder embed.Embedder) {
	ids := map[string]uint64{}
	for _, ent := range cg.Entities() {
		vec := ent.Embedding
		if len(vec) != kg.Config().EmbeddingDim {
			var err error
			vec, err = embedder.Embed(ctx, ent.Name)
			if err != nil {
				log.Printf("embed %q: %v", ent.Name, err)
				continue
			}
		}
		id, err := kg.Resolve(ent.Name, ent.Type.String(), vec, 1.0)
		if err != nil {
			log.Printf("resolve %q: %v", ent.Name, err)
			continue
		}
		ids[ent.ID] = id
	}
	for _, rel := range cg.Relationships() {
		src, okSrc := ids[rel.SourceID]
		dst, okDst := ids[rel.DestinationID]
		if !okSrc || !okDst {
			continue
		}
		if _, err := kg.AddRelation(src, dst, rel.Type, 1.0); err != nil {
			log.Printf("relate %s: %v", rel.Type, err)
		}
	}
}
