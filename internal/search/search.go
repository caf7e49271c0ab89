package search

// Result is a single objective hit.
type Result struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	Department string `json:"department"`
	Status     string `json:"status"`
}

// Query describes an objective search request.
type Query struct {
	Text             string
	FilterDepartment string
	FilterStatus     string
	Limit            int
	Offset           int
}

// Response is the envelope returned to callers.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over objectives.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ObjectiveRecord is the data indexed per objective.
type ObjectiveRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Department  string `json:"department"`
	Category    string `json:"category"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
}
