// Package session implements the classification session: the state machine
// that takes a selected image through one classification request and
// interprets the answer.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/nandivision/internal/breeds"
	"github.com/example/nandivision/internal/classifier"
	"github.com/example/nandivision/internal/intake"
	"github.com/example/nandivision/internal/logging"
	"github.com/example/nandivision/internal/preview"
)

var (
	// ErrClosed is returned by operations on a torn down session.
	ErrClosed = errors.New("session closed")
	// ErrStaleResponse marks a response discarded because the user moved on.
	ErrStaleResponse = errors.New("stale classification response discarded")
)

// Dependencies are the collaborators shared by every session.
type Dependencies struct {
	Previews   preview.Store
	Classifier classifier.Client
	Catalog    *breeds.Catalog
	Logger     *zap.Logger
}

// Session is one user's interaction state. All transitions are serialised
// by an internal mutex; the classification request runs on its own
// goroutine and reports back through complete.
type Session struct {
	id      string
	client  classifier.Client
	catalog *breeds.Catalog
	logger  *zap.Logger

	mu     sync.Mutex
	intake *intake.Controller
	phase  phase
	closed bool
}

// New creates an Idle session.
func New(id string, deps Dependencies) *Session {
	logger := deps.Logger.Named("session").With(zap.String("session_id", id))
	return &Session{
		id:      id,
		client:  deps.Classifier,
		catalog: deps.Catalog,
		logger:  logger,
		intake:  intake.NewController(deps.Previews, logger),
		phase:   idlePhase{},
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase.state()
}

// SelectImage validates and stores a new image. A rejected candidate leaves
// the session untouched. An accepted one clears any result or error and
// moves the session to Ready, superseding an in-flight request.
func (s *Session) SelectImage(ctx context.Context, cand intake.Candidate) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return View{}, ErrClosed
	}
	img, err := s.intake.Select(ctx, cand)
	if err != nil {
		return View{}, err
	}

	s.abandonFlight()
	s.phase = readyPhase{}
	s.logger.Info("image selected",
		zap.String("image_id", img.ID),
		zap.String("media_type", img.MediaType),
		zap.Int64("size", img.Size()),
	)
	return s.viewLocked(), nil
}

// Reset drops the image, its preview and any result or error. It never
// fails and is a no-op on an Idle session.
func (s *Session) Reset(ctx context.Context) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.abandonFlight()
		s.intake.Clear(ctx)
		s.phase = idlePhase{}
	}
	return s.viewLocked()
}

// Close tears the session down, releasing any live preview. Safe to call
// more than once.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.abandonFlight()
	s.intake.Close(ctx)
	s.phase = idlePhase{}
	s.closed = true
	s.logger.Debug("session closed")
}

// Touch keeps the session's preview alive. It is called on every access
// through the registry.
func (s *Session) Touch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.intake.Touch(ctx)
}

// Submit starts a classification of the selected image. It is accepted from
// Ready and, as a retry, from Failed; anywhere else it is a no-op and
// returns started=false. The returned channel closes once the request has
// settled, whether its response was applied or discarded.
//
// The request inherits ctx values but not its cancellation: it ends when the
// service answers, when the user selects or resets, or when the session is
// closed.
func (s *Session) Submit(ctx context.Context) (done <-chan struct{}, started bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}
	switch s.phase.(type) {
	case readyPhase, failedPhase:
	default:
		return nil, false
	}
	img := s.intake.Current()
	if img == nil {
		return nil, false
	}

	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{
		requestID: uuid.NewString(),
		imageID:   img.ID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.phase = submittingPhase{flight: f}
	s.logger.Info("classification submitted", zap.String("request_id", f.requestID), zap.String("image_id", img.ID))

	req := classifier.Request{
		ID:        f.requestID,
		Filename:  img.Filename,
		MediaType: img.MediaType,
		Data:      img.Data,
	}
	go s.run(reqCtx, f, req)
	return f.done, true
}

func (s *Session) run(ctx context.Context, f *flight, req classifier.Request) {
	defer close(f.done)
	defer f.cancel()

	prediction, err := s.client.Classify(ctx, req)
	if applyErr := s.complete(f, prediction, err); errors.Is(applyErr, ErrStaleResponse) {
		s.logger.Debug("discarded stale classification response",
			zap.String("request_id", f.requestID),
			zap.String("image_id", f.imageID),
		)
	}
}

// complete applies a response if, and only if, the session is still waiting
// for this request on this image.
func (s *Session) complete(f *flight, prediction *classifier.Prediction, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.phase.(submittingPhase)
	img := s.intake.Current()
	if s.closed || !ok || current.flight != f || img == nil || img.ID != f.imageID {
		return ErrStaleResponse
	}

	opLogger := logging.WithOperation(s.logger, "session.complete", f.requestID)
	if err != nil {
		opLogger.Error("classification failed", zap.Error(err))
		s.phase = failedPhase{reason: ReasonUnavailable}
		return nil
	}

	result, err := ParseResult(prediction)
	if err != nil {
		opLogger.Error("classification response rejected", zap.Error(err))
		s.phase = failedPhase{reason: ReasonUnexpectedResponse}
		return nil
	}

	s.phase = succeededPhase{result: result}
	fields := []zap.Field{zap.String("type", string(result.Type)), zap.Float64("type_confidence", result.TypeConfidence)}
	if result.Breed != nil {
		fields = append(fields, zap.String("breed", result.Breed.Label), zap.Float64("breed_confidence", result.Breed.Confidence))
	}
	opLogger.Info("classification succeeded", fields...)
	return nil
}

// abandonFlight cancels the in-flight request, if any. Its eventual
// completion will find the session has moved on and be discarded.
func (s *Session) abandonFlight() {
	if current, ok := s.phase.(submittingPhase); ok {
		current.flight.cancel()
	}
}

// Result returns the current result, or nil outside Succeeded.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.phase.(succeededPhase); ok {
		return p.result
	}
	return nil
}

// BreedInfo joins the current result with the session's breed dictionary.
func (s *Session) BreedInfo() *breeds.Metadata {
	return DeriveBreedInfo(s.Result(), s.catalog)
}

// View returns a presentation snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}
