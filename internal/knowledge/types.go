package knowledge

// Reference is a unit of clinical evidence returned by the knowledge base.
// Assessments cite references by ID only and never own them.
type Reference struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	Source    string  `json:"source"`
	Relevance float64 `json:"relevance"`
}
