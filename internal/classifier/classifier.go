// Package classifier talks to the remote cattle classification service.
package classifier

import (
	"context"
	"fmt"
)

// Request carries one image to the classification service.
type Request struct {
	// ID tags the request in logs and errors.
	ID        string
	Filename  string
	MediaType string
	Data      []byte
}

// Prediction is the decoded success body. Optional members are nil when the
// service omitted them.
type Prediction struct {
	Type            string   `json:"type"`
	TypeConfidence  *float64 `json:"type_confidence"`
	Breed           *string  `json:"breed,omitempty"`
	BreedConfidence *float64 `json:"breed_confidence,omitempty"`
}

// Client exposes the subset of the service used by a session.
type Client interface {
	Classify(ctx context.Context, req Request) (*Prediction, error)
}

// StatusError reports a non-2xx answer from the service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("classification service returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("classification service returned status %d: %s", e.StatusCode, e.Body)
}
