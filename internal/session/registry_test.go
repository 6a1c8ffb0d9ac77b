package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/nandivision/internal/breeds"
	"github.com/example/nandivision/internal/preview"
)

// fakeClock is a settable time source for idle expiry.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(opts ...RegistryOption) (*Registry, *preview.MemoryStore) {
	previews := preview.NewMemoryStore()
	return NewRegistry(Dependencies{
		Previews:   previews,
		Classifier: newStubClassifier(),
		Catalog:    breeds.Default(),
		Logger:     zap.NewNop(),
	}, opts...), previews
}

func mustCreate(t *testing.T, r *Registry) *Session {
	t.Helper()
	s, err := r.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func TestRegistryLifecycle(t *testing.T) {
	registry, previews := newTestRegistry()
	ctx := context.Background()

	s := mustCreate(t, registry)
	got, err := registry.Get(s.ID())
	if err != nil || got != s {
		t.Fatalf("expected to find session, got %v", err)
	}
	if _, err := s.SelectImage(ctx, image(0x01, 10)); err != nil {
		t.Fatalf("select: %v", err)
	}

	if err := registry.Close(ctx, s.ID()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if previews.Live() != 0 {
		t.Fatalf("expected preview released on close, got %d", previews.Live())
	}
	if _, err := registry.Get(s.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := registry.Close(ctx, s.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second close, got %v", err)
	}
}

func TestRegistryCloseAll(t *testing.T) {
	registry, previews := newTestRegistry()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s := mustCreate(t, registry)
		if _, err := s.SelectImage(ctx, image(byte(i), 10)); err != nil {
			t.Fatalf("select: %v", err)
		}
	}
	if registry.Len() != 3 || previews.Live() != 3 {
		t.Fatalf("unexpected setup: %d sessions, %d previews", registry.Len(), previews.Live())
	}

	registry.CloseAll(ctx)
	if registry.Len() != 0 || previews.Live() != 0 {
		t.Fatalf("expected everything released, got %d sessions, %d previews", registry.Len(), previews.Live())
	}
}

func TestSweepClosesAbandonedSessions(t *testing.T) {
	clock := newFakeClock()
	registry, previews := newTestRegistry(WithIdleTimeout(15 * time.Minute))
	registry.now = clock.Now
	ctx := context.Background()

	var abandoned []*Session
	for i := 0; i < 64; i++ {
		s := mustCreate(t, registry)
		if _, err := s.SelectImage(ctx, image(byte(i), 1024)); err != nil {
			t.Fatalf("select: %v", err)
		}
		abandoned = append(abandoned, s)
	}
	active := mustCreate(t, registry)
	if _, err := active.SelectImage(ctx, image(0xEE, 1024)); err != nil {
		t.Fatalf("select: %v", err)
	}

	clock.Advance(10 * time.Minute)
	if n := registry.Sweep(ctx); n != 0 {
		t.Fatalf("expected nothing idle yet, closed %d", n)
	}
	if _, err := registry.Get(active.ID()); err != nil {
		t.Fatalf("get: %v", err)
	}

	clock.Advance(6 * time.Minute)
	if n := registry.Sweep(ctx); n != 64 {
		t.Fatalf("expected 64 abandoned sessions closed, got %d", n)
	}
	if registry.Len() != 1 || previews.Live() != 1 {
		t.Fatalf("expected only the active session left, got %d sessions, %d previews", registry.Len(), previews.Live())
	}
	if _, err := abandoned[0].SelectImage(ctx, image(0x01, 10)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected swept session to be closed, got %v", err)
	}

	clock.Advance(16 * time.Minute)
	registry.Sweep(ctx)
	if registry.Len() != 0 || previews.Live() != 0 {
		t.Fatalf("expected all previews released, got %d sessions, %d previews", registry.Len(), previews.Live())
	}
}

func TestSweepWithoutIdleTimeoutKeepsSessions(t *testing.T) {
	clock := newFakeClock()
	registry, _ := newTestRegistry()
	registry.now = clock.Now
	mustCreate(t, registry)

	clock.Advance(24 * time.Hour)
	if n := registry.Sweep(context.Background()); n != 0 || registry.Len() != 1 {
		t.Fatalf("expected no expiry without an idle timeout, closed %d", n)
	}
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	registry, previews := newTestRegistry(WithIdleTimeout(time.Millisecond))
	s := mustCreate(t, registry)
	if _, err := s.SelectImage(context.Background(), image(0x01, 10)); err != nil {
		t.Fatalf("select: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		registry.Run(ctx, 5*time.Millisecond)
		close(stopped)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for registry.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-stopped

	if registry.Len() != 0 || previews.Live() != 0 {
		t.Fatalf("expected janitor to close the idle session, got %d sessions, %d previews", registry.Len(), previews.Live())
	}
}

func TestCreateRespectsSessionLimit(t *testing.T) {
	registry, _ := newTestRegistry(WithMaxSessions(2))
	first := mustCreate(t, registry)
	mustCreate(t, registry)

	if _, err := registry.Create(); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("expected ErrTooManySessions, got %v", err)
	}
	if err := registry.Close(context.Background(), first.ID()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := registry.Create(); err != nil {
		t.Fatalf("expected room after close, got %v", err)
	}
}

func TestTouchKeepsRedisPreviewAlive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	core, logs := observer.New(zapcore.WarnLevel)
	previews := preview.NewRedisStore(client, 30*time.Minute, zap.NewNop())
	s := New("redis-session", Dependencies{
		Previews:   previews,
		Classifier: newStubClassifier(),
		Catalog:    breeds.Default(),
		Logger:     zap.New(core),
	})
	ctx := context.Background()

	view, err := s.SelectImage(ctx, image(0x42, 2048))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	handle := preview.Handle(view.Image.PreviewURL[len("/previews/"):])

	// An active session outlives the preview TTL as long as it is touched.
	for i := 0; i < 3; i++ {
		mr.FastForward(20 * time.Minute)
		if err := s.Touch(ctx); err != nil {
			t.Fatalf("touch: %v", err)
		}
	}
	if _, err := previews.Open(ctx, handle); err != nil {
		t.Fatalf("expected preview to stay live, got %v", err)
	}

	// A preview that expired anyway is recreated for the same image.
	mr.FastForward(31 * time.Minute)
	if err := s.Touch(ctx); err != nil {
		t.Fatalf("touch after expiry: %v", err)
	}
	view = s.View()
	if view.State != Ready || view.Image.PreviewURL == preview.URL(handle) {
		t.Fatalf("expected a fresh preview url, got %+v", view.Image)
	}
	if _, err := previews.Open(ctx, preview.Handle(view.Image.PreviewURL[len("/previews/"):])); err != nil {
		t.Fatalf("expected advertised preview to resolve, got %v", err)
	}

	s.Reset(ctx)
	if n := logs.FilterMessage("failed to release preview").Len(); n != 0 {
		t.Fatalf("expected clean release, got %d warnings", n)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected no previews left in redis, got %v", keys)
	}
}
