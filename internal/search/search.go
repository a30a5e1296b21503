// Package search finds ideas by content within a project, via
// Meilisearch when it is reachable and a Postgres scan otherwise.
package search

// IdeaRecord is the data indexed per idea.
type IdeaRecord struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Content   string `json:"content"`
	Details   string `json:"details"`
	Priority  string `json:"priority"`
	Category  string `json:"category"`
}

// Query describes a search request, always scoped to one project.
type Query struct {
	ProjectID string
	Text      string
	Limit     int
}

// Result is a single hit.
type Result struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Snippet  string `json:"snippet"`
	Category string `json:"category"`
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a scoped content search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}
