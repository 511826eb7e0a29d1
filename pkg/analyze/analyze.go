// Package analyze defines the job-offer classification contract and its LLM
// adapter.
package analyze

import "context"

// Analysis is the classifier's verdict on one post. The structured fields
// are only populated when IsJobOffer is true.
type Analysis struct {
	IsJobOffer  bool     `json:"isJobOffer"`
	Title       string   `json:"title"`
	Company     string   `json:"company"`
	Location    string   `json:"location"`
	Description string   `json:"description"`
	TechStack   []string `json:"techStack"`
	MainStack   string   `json:"mainStack"`
}

// Analyzer classifies raw post content. Callers treat any error as "not a
// job offer" so a flaky classifier degrades one item, never a whole run.
type Analyzer interface {
	Analyze(ctx context.Context, content string) (Analysis, error)
}
