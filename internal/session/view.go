package session

import (
	"github.com/example/nandivision/internal/breeds"
	"github.com/example/nandivision/internal/preview"
)

// View is what a front end renders for a session.
type View struct {
	SessionID   string           `json:"session_id"`
	State       State            `json:"state"`
	Image       *ImageView       `json:"image,omitempty"`
	Result      *ResultView      `json:"result,omitempty"`
	BreedInfo   *breeds.Metadata `json:"breed_info,omitempty"`
	Error       string           `json:"error,omitempty"`
	Affordances Affordances      `json:"affordances"`
}

// ImageView describes the selected image.
type ImageView struct {
	ID         string `json:"id"`
	Filename   string `json:"filename,omitempty"`
	MediaType  string `json:"media_type"`
	Size       int64  `json:"size"`
	PreviewURL string `json:"preview_url"`
}

// ResultView is a Result with its display flags.
type ResultView struct {
	Type            CattleType `json:"type"`
	TypeConfidence  float64    `json:"type_confidence"`
	Breed           string     `json:"breed,omitempty"`
	BreedConfidence *float64   `json:"breed_confidence,omitempty"`
	ConfidenceTier  Tier       `json:"confidence_tier,omitempty"`
	// NotCattle drives the "not a cattle image" notice.
	NotCattle bool `json:"not_cattle"`
	// LowConfidence drives the limited-training-data warning.
	LowConfidence bool `json:"low_confidence"`
}

// Affordances tell the front end which controls are enabled.
type Affordances struct {
	CanSelect bool `json:"can_select"`
	CanReset  bool `json:"can_reset"`
	CanSubmit bool `json:"can_submit"`
}

// NewResultView derives the display flags of a result.
func NewResultView(result *Result) *ResultView {
	if result == nil {
		return nil
	}
	view := &ResultView{
		Type:           result.Type,
		TypeConfidence: result.TypeConfidence,
		NotCattle:      result.Type == TypeNone,
	}
	if result.Breed != nil {
		confidence := result.Breed.Confidence
		view.Breed = result.Breed.Label
		view.BreedConfidence = &confidence
		view.ConfidenceTier = ConfidenceTier(confidence)
		view.LowConfidence = view.ConfidenceTier == TierLow
	}
	return view
}

func (s *Session) viewLocked() View {
	state := s.phase.state()
	view := View{
		SessionID: s.id,
		State:     state,
		Affordances: Affordances{
			CanSelect: !s.closed,
			CanReset:  !s.closed && state != Idle,
			CanSubmit: !s.closed && (state == Ready || state == Failed),
		},
	}

	if img := s.intake.Current(); img != nil {
		view.Image = &ImageView{
			ID:         img.ID,
			Filename:   img.Filename,
			MediaType:  img.MediaType,
			Size:       img.Size(),
			PreviewURL: preview.URL(s.intake.Preview()),
		}
	}

	switch p := s.phase.(type) {
	case succeededPhase:
		view.Result = NewResultView(p.result)
		view.BreedInfo = DeriveBreedInfo(p.result, s.catalog)
	case failedPhase:
		view.Error = p.reason
	}
	return view
}
