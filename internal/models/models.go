package models

// Author is one person credited on a paper. Affiliation and identifiers are
// optional; extraction keeps whatever the parsing service could resolve.
type Author struct {
	Firstname   string `json:"firstname"`
	Lastname    string `json:"lastname"`
	Email       string `json:"email,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
	ORCID       string `json:"orcid,omitempty"`
}

type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Level   int    `json:"level"`
}

// ReferenceEntry is one bibliography item. Authors here are name-only; emails
// and affiliations are never present in reference lists.
type ReferenceEntry struct {
	Title    string   `json:"title"`
	Authors  []Author `json:"authors"`
	Year     string   `json:"year,omitempty"`
	DOI      string   `json:"doi,omitempty"`
	Venue    string   `json:"venue,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
}

// Paper is the extracted view of one uploaded document.
type Paper struct {
	Title      string           `json:"title"`
	Authors    []Author         `json:"authors"`
	Year       string           `json:"year,omitempty"`
	Abstract   string           `json:"abstract,omitempty"`
	Sections   []Section        `json:"sections"`
	BodyText   string           `json:"body_text,omitempty"`
	References []ReferenceEntry `json:"references"`
}

// Chunk is a bounded, position-tracked slice of extracted text sized for
// embedding. Offsets are relative to the source text the chunk came from;
// lines are 1-based.
type Chunk struct {
	Text         string `json:"text"`
	TokenCount   int    `json:"tokens"`
	StartChar    int    `json:"start_char"`
	EndChar      int    `json:"end_char"`
	StartLine    int    `json:"start_line"`
	EndLine      int    `json:"end_line"`
	ChunkIndex   int    `json:"chunk_index"`
	SourceType   string `json:"source"`
	SectionTitle string `json:"section"`
}

// ChunkMeta is the metadata record stored alongside each vector in the index.
// Document-level fields are populated for reference chunks so that search
// results can be grouped by reference.
type ChunkMeta struct {
	Chunk
	RefID   string   `json:"ref_id,omitempty"`
	Title   string   `json:"title,omitempty"`
	Authors []Author `json:"authors,omitempty"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Source is one retrieved chunk attributed in a query answer.
type Source struct {
	Text       string  `json:"text"`
	Section    string  `json:"section"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Similarity float64 `json:"similarity"`
}

type QueryResult struct {
	Answer     string     `json:"answer"`
	ChunksUsed int        `json:"chunks_used"`
	Sources    []Source   `json:"sources"`
	Usage      TokenUsage `json:"token_usage"`
}
