package types

// Field limits enforced at the boundary. Oversized input is rejected before it
// reaches the pipeline.
const (
	MaxTitleLength      = 500
	MaxSnippetLength    = 500
	MaxKeywordsPerTopic = 20
	MaxKeywordLength    = 100
)
