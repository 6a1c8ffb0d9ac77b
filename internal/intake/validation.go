// Package intake owns the image a user has selected and its preview handle.
package intake

import (
	"fmt"
	"strings"
)

// MaxImageSize is the largest accepted image, in bytes.
const MaxImageSize = 1 << 20

// Reason classifies a rejected selection.
type Reason string

const (
	ReasonUnsupportedType Reason = "unsupported_type"
	ReasonTooLarge        Reason = "too_large"
)

// ValidationError rejects a candidate at selection time. Message is safe to
// show to the user.
type ValidationError struct {
	Reason    Reason
	Message   string
	MediaType string
	Size      int64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s (media_type=%q size=%d)", e.Message, e.MediaType, e.Size)
}

// Validate checks a declared media type and byte size.
func Validate(mediaType string, size int64) error {
	if size <= 0 || !strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/") {
		return &ValidationError{
			Reason:    ReasonUnsupportedType,
			Message:   "Please upload a valid image",
			MediaType: mediaType,
			Size:      size,
		}
	}
	if size > MaxImageSize {
		return &ValidationError{
			Reason:    ReasonTooLarge,
			Message:   "Image must be under 1MB",
			MediaType: mediaType,
			Size:      size,
		}
	}
	return nil
}
