package intake

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/example/nandivision/internal/preview"
)

// countingStore wraps a MemoryStore and records releases so double releases
// and leaks are visible.
type countingStore struct {
	*preview.MemoryStore
	released  []preview.Handle
	createErr error
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: preview.NewMemoryStore()}
}

func (s *countingStore) Create(ctx context.Context, img preview.Image) (preview.Handle, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	return s.MemoryStore.Create(ctx, img)
}

func (s *countingStore) Release(ctx context.Context, h preview.Handle) error {
	s.released = append(s.released, h)
	return s.MemoryStore.Release(ctx, h)
}

func jpeg(size int) Candidate {
	return Candidate{Filename: "cow.jpg", MediaType: "image/jpeg", Data: bytes.Repeat([]byte{0xAB}, size)}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name      string
		mediaType string
		size      int64
		want      Reason
	}{
		{name: "jpeg", mediaType: "image/jpeg", size: 500 * 1024},
		{name: "exact limit", mediaType: "image/png", size: MaxImageSize},
		{name: "upper case type", mediaType: "IMAGE/PNG", size: 10},
		{name: "text", mediaType: "text/plain", size: 10, want: ReasonUnsupportedType},
		{name: "pdf", mediaType: "application/pdf", size: 10, want: ReasonUnsupportedType},
		{name: "missing type", mediaType: "", size: 10, want: ReasonUnsupportedType},
		{name: "empty file", mediaType: "image/png", size: 0, want: ReasonUnsupportedType},
		{name: "one byte over", mediaType: "image/jpeg", size: MaxImageSize + 1, want: ReasonTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.mediaType, tc.size)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if vErr.Reason != tc.want {
				t.Fatalf("unexpected reason: %s", vErr.Reason)
			}
		})
	}
}

func TestSelectRejectsInvalidAndKeepsState(t *testing.T) {
	store := newCountingStore()
	c := NewController(store, zap.NewNop())
	ctx := context.Background()

	first, err := c.Select(ctx, jpeg(1024))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	handle := c.Preview()

	if _, err := c.Select(ctx, Candidate{MediaType: "text/plain", Data: []byte("hi")}); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := c.Select(ctx, jpeg(MaxImageSize+1)); err == nil {
		t.Fatal("expected validation error")
	}

	if c.Current() != first || c.Preview() != handle {
		t.Fatal("rejected selection must not alter the current image")
	}
	if len(store.released) != 0 {
		t.Fatalf("rejected selection must not release previews, got %v", store.released)
	}
}

func TestSelectSupersedesPreview(t *testing.T) {
	store := newCountingStore()
	c := NewController(store, zap.NewNop())
	ctx := context.Background()

	first, _ := c.Select(ctx, jpeg(10))
	firstHandle := c.Preview()
	second, err := c.Select(ctx, jpeg(20))
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	if first.ID == second.ID {
		t.Fatal("each selection must get a new identity")
	}
	if len(store.released) != 1 || store.released[0] != firstHandle {
		t.Fatalf("expected first preview released once, got %v", store.released)
	}
	if store.Live() != 1 {
		t.Fatalf("expected exactly one live preview, got %d", store.Live())
	}
	img, err := store.Open(ctx, c.Preview())
	if err != nil || len(img.Data) != 20 {
		t.Fatalf("expected preview of the second image, got %v (%d bytes)", err, len(img.Data))
	}
}

func TestSelectCopiesCandidateBytes(t *testing.T) {
	c := NewController(newCountingStore(), zap.NewNop())
	cand := jpeg(4)
	img, _ := c.Select(context.Background(), cand)
	cand.Data[0] = 0x00
	if img.Data[0] != 0xAB {
		t.Fatal("selected image must not alias the candidate buffer")
	}
}

func TestSelectPreviewFailureKeepsState(t *testing.T) {
	store := newCountingStore()
	c := NewController(store, zap.NewNop())
	ctx := context.Background()
	first, _ := c.Select(ctx, jpeg(10))

	store.createErr = errors.New("redis down")
	if _, err := c.Select(ctx, jpeg(20)); err == nil {
		t.Fatal("expected preview failure")
	}
	if c.Current() != first {
		t.Fatal("preview failure must keep the previous image")
	}
	if len(store.released) != 0 {
		t.Fatal("preview failure must keep the previous preview live")
	}
}

func TestClearIsIdempotent(t *testing.T) {
	store := newCountingStore()
	c := NewController(store, zap.NewNop())
	ctx := context.Background()

	c.Clear(ctx)
	if _, err := c.Select(ctx, jpeg(10)); err != nil {
		t.Fatalf("select: %v", err)
	}
	c.Clear(ctx)
	c.Clear(ctx)

	if c.Current() != nil || c.Preview() != "" {
		t.Fatal("expected empty controller after clear")
	}
	if len(store.released) != 1 {
		t.Fatalf("expected exactly one release, got %d", len(store.released))
	}
	if store.Live() != 0 {
		t.Fatalf("expected no live previews, got %d", store.Live())
	}
}

func TestCloseReleasesAndRejectsSelection(t *testing.T) {
	store := newCountingStore()
	c := NewController(store, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := c.Select(ctx, jpeg(10)); err != nil {
		t.Fatalf("select: %v", err)
	}
	cancel()
	c.Close(ctx)
	c.Close(ctx)

	if store.Live() != 0 {
		t.Fatalf("expected teardown to release the preview, got %d live", store.Live())
	}
	if _, err := c.Select(context.Background(), jpeg(10)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestTouchRecreatesExpiredPreview(t *testing.T) {
	store := newCountingStore()
	c := NewController(store, zap.NewNop())
	ctx := context.Background()

	img, err := c.Select(ctx, jpeg(16))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := c.Touch(ctx); err != nil {
		t.Fatalf("touch live preview: %v", err)
	}
	expired := c.Preview()

	// The store drops the entry behind the controller's back.
	if err := store.MemoryStore.Release(ctx, expired); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if err := c.Touch(ctx); err != nil {
		t.Fatalf("touch expired preview: %v", err)
	}
	if c.Preview() == expired || c.Current() != img {
		t.Fatal("expected a fresh preview for the same image")
	}
	restored, err := store.Open(ctx, c.Preview())
	if err != nil || len(restored.Data) != 16 {
		t.Fatalf("expected recreated preview content, got %v", err)
	}

	c.Clear(ctx)
	if store.Live() != 0 {
		t.Fatalf("expected recreated preview released on clear, got %d live", store.Live())
	}
	if len(store.released) != 1 {
		t.Fatalf("expected one release through the controller, got %v", store.released)
	}
}

func TestTouchWithoutImageIsNoop(t *testing.T) {
	c := NewController(newCountingStore(), zap.NewNop())
	if err := c.Touch(context.Background()); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}
