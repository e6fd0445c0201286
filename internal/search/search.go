package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPost    ResultType = "post"
	ResultQuote   ResultType = "quote"
	ResultJournal ResultType = "journal"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	CircleID string     `json:"circleId,omitempty"`
	Category string     `json:"category,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	FilterCircleID string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexPost(p PostRecord) error
	IndexQuote(q QuoteRecord) error
	IndexJournal(j JournalRecord) error
	DeletePost(id string) error
	DeleteQuote(id string) error
}

// PostRecord is the data we index for an exposé post.
type PostRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Excerpt  string `json:"excerpt"`
	Category string `json:"category"`
	BookRef  string `json:"bookRef"`
}

// QuoteRecord is the data we index for a circle quote.
type QuoteRecord struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	BookRef  string `json:"bookRef"`
	CircleID string `json:"circleId"`
}

// JournalRecord is the data we index for a journal entry.
type JournalRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	CircleID string `json:"circleId"`
}
