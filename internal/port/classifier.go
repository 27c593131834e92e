package port

import "chromamcp/internal/domain"

// Classifier suggests a target collection for free text.
type Classifier interface {
	Classify(content, title string) (domain.Classification, error)
}
