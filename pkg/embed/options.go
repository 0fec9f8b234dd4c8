package embed

// Options configures the local fastembed provider.
type Options struct {
	Model     string // e.g. "BAAI/bge-small-en-v1.5" (default)
	CacheDir  string // e.g. ".fastembed"
	MaxLength int    // token limit, 0 = default
	BatchSize int    // capped by CPU count
}
