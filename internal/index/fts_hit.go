package index

// LexicalQuery parameterizes one lexical search. AllowedFileIDs follows the
// filter convention: nil means unrestricted, empty means nothing allowed.
// TextOf supplies raw file bytes; only the non-FTS5 build uses it.
type LexicalQuery struct {
	Query          string
	Limit          int
	AllowedFileIDs []int64
	DateFrom       string
	DateTo         string
	TextOf         func(relPath string) ([]byte, error)
}

// LexicalRow is one lexical search result. Raw is the relevance score with
// higher as better (negated BM25 under FTS5).
type LexicalRow struct {
	ChunkRef
	Raw float64
}
