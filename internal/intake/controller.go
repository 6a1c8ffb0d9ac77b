package intake

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/nandivision/internal/logging"
	"github.com/example/nandivision/internal/preview"
)

// ErrClosed is returned by Select after Close.
var ErrClosed = errors.New("intake controller closed")

// Candidate is a file the user picked.
type Candidate struct {
	Filename  string
	MediaType string
	Data      []byte
}

// SelectedImage is an accepted candidate. Its bytes are a private copy and
// must not be modified by callers.
type SelectedImage struct {
	ID        string
	Filename  string
	MediaType string
	Data      []byte
}

// Size returns the image size in bytes.
func (img *SelectedImage) Size() int64 {
	return int64(len(img.Data))
}

// Controller holds at most one SelectedImage and exactly one live preview
// handle for it. It is not safe for concurrent use; the owning session
// serialises calls.
type Controller struct {
	store  preview.Store
	logger *zap.Logger

	image  *SelectedImage
	handle preview.Handle
	closed bool
}

// NewController creates an empty controller issuing previews from store.
func NewController(store preview.Store, logger *zap.Logger) *Controller {
	return &Controller{store: store, logger: logger.Named("intake")}
}

// Select validates the candidate and, on success, makes it the current image
// with a fresh preview, releasing the previous one. On any error the current
// image and preview are left untouched.
func (c *Controller) Select(ctx context.Context, cand Candidate) (*SelectedImage, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if err := Validate(cand.MediaType, int64(len(cand.Data))); err != nil {
		return nil, err
	}

	data := make([]byte, len(cand.Data))
	copy(data, cand.Data)
	img := &SelectedImage{
		ID:        uuid.NewString(),
		Filename:  cand.Filename,
		MediaType: cand.MediaType,
		Data:      data,
	}

	handle, err := c.store.Create(ctx, preview.Image{MediaType: img.MediaType, Data: img.Data})
	if err != nil {
		wrapped := logging.NewOperationError("intake.create_preview", img.ID, err)
		c.logger.Error("failed to create preview", zap.Error(wrapped))
		return nil, wrapped
	}

	c.release(ctx)
	c.image = img
	c.handle = handle
	return img, nil
}

// Clear releases the preview and forgets the image. It is a no-op when
// nothing is selected.
func (c *Controller) Clear(ctx context.Context) {
	c.release(ctx)
	c.image = nil
}

// Close clears the controller and rejects further selections. Safe to call
// more than once.
func (c *Controller) Close(ctx context.Context) {
	c.Clear(ctx)
	c.closed = true
}

// Touch keeps the live preview from expiring. A preview the store has
// already dropped is recreated from the selected image, so the handle the
// controller holds always resolves.
func (c *Controller) Touch(ctx context.Context) error {
	if c.handle == "" || c.image == nil {
		return nil
	}
	err := c.store.Touch(ctx, c.handle)
	if !errors.Is(err, preview.ErrUnknownHandle) {
		return err
	}

	handle, err := c.store.Create(ctx, preview.Image{MediaType: c.image.MediaType, Data: c.image.Data})
	if err != nil {
		wrapped := logging.NewOperationError("intake.recreate_preview", c.image.ID, err)
		c.logger.Error("failed to recreate expired preview", zap.Error(wrapped))
		return wrapped
	}
	c.logger.Info("recreated expired preview",
		zap.String("image_id", c.image.ID),
		zap.String("expired_handle", string(c.handle)),
	)
	c.handle = handle
	return nil
}

// Current returns the selected image, or nil.
func (c *Controller) Current() *SelectedImage {
	return c.image
}

// Preview returns the live preview handle, or "".
func (c *Controller) Preview() preview.Handle {
	return c.handle
}

// release drops the handle exactly once, even when ctx is already done. Store
// failures are logged; the handle is forgotten regardless so it is never
// released twice.
func (c *Controller) release(ctx context.Context) {
	if c.handle == "" {
		return
	}
	handle := c.handle
	c.handle = ""
	if err := c.store.Release(context.WithoutCancel(ctx), handle); err != nil {
		c.logger.Warn("failed to release preview", zap.String("handle", string(handle)), zap.Error(err))
	}
}
