package domain

// PolicyPassage is one regulation passage. Score is only set on search
// results; higher is more relevant and no fixed range is implied.
type PolicyPassage struct {
	DocID   string  `json:"doc_id"`
	Section string  `json:"section"`
	Text    string  `json:"text"`
	Score   float64 `json:"-"`
}

// Evidence is an uploaded evidence record whose text has already been
// extracted by the ingestion collaborator.
type Evidence struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	ExtractedText string `json:"extracted_text"`
}
