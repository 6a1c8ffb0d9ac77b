package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/nandivision/internal/breeds"
	"github.com/example/nandivision/internal/intake"
	"github.com/example/nandivision/internal/preview"
	"github.com/example/nandivision/internal/session"
)

// MaxUploadSize bounds a whole image upload request: the largest accepted
// image plus room for the multipart envelope.
const MaxUploadSize = intake.MaxImageSize + 64<<10

// Dependencies are the collaborators the HTTP surface needs.
type Dependencies struct {
	Sessions *session.Registry
	Previews preview.Store
	Catalog  *breeds.Catalog
	Logger   *zap.Logger
}

type api struct {
	sessions *session.Registry
	previews preview.Store
	catalog  *breeds.Catalog
	logger   *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	a := &api{
		sessions: deps.Sessions,
		previews: deps.Previews,
		catalog:  deps.Catalog,
		logger:   deps.Logger.Named("http"),
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	sessions := router.Group("/sessions")
	sessions.POST("", a.createSession)
	sessions.GET("/:id", a.withSession(a.getSession))
	sessions.PUT("/:id/image", a.withSession(a.selectImage))
	sessions.DELETE("/:id/image", a.withSession(a.resetSession))
	sessions.POST("/:id/submit", a.withSession(a.submit))
	sessions.DELETE("/:id", a.closeSession)

	router.GET("/previews/:handle", a.getPreview)
	router.GET("/breeds", a.listBreeds)
	router.GET("/breeds/:name", a.getBreed)
}

// RequestLogger logs one line per request with zap.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(started)),
		)
	}
}

func (a *api) withSession(next func(*gin.Context, *session.Session)) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := a.sessions.Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		if err := s.Touch(c.Request.Context()); err != nil {
			if errors.Is(err, session.ErrClosed) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			a.logger.Warn("failed to keep preview alive", zap.String("session_id", s.ID()), zap.Error(err))
		}
		next(c, s)
	}
}

func (a *api) createSession(c *gin.Context) {
	s, err := a.sessions.Create()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many active sessions, try again later"})
		return
	}
	c.Header("Location", "/sessions/"+s.ID())
	c.JSON(http.StatusCreated, s.View())
}

func (a *api) getSession(c *gin.Context, s *session.Session) {
	c.JSON(http.StatusOK, s.View())
}

func (a *api) selectImage(c *gin.Context, s *session.Session) {
	if c.Request.ContentLength > MaxUploadSize {
		respondTooLarge(c)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondTooLarge(c)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}

	mediaType := file.Header.Get("Content-Type")
	if err := intake.Validate(mediaType, file.Size); err != nil {
		a.respondSelectError(c, err)
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return
	}

	view, err := s.SelectImage(c.Request.Context(), intake.Candidate{
		Filename:  file.Filename,
		MediaType: mediaType,
		Data:      data,
	})
	if err != nil {
		a.respondSelectError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a *api) respondSelectError(c *gin.Context, err error) {
	var vErr *intake.ValidationError
	switch {
	case errors.As(err, &vErr):
		status := http.StatusUnsupportedMediaType
		if vErr.Reason == intake.ReasonTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": vErr.Message, "reason": vErr.Reason})
	case errors.Is(err, session.ErrClosed):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	default:
		a.logger.Error("image selection failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "preview storage unavailable"})
	}
}

func respondTooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image must be under 1MB", "reason": intake.ReasonTooLarge})
}

func (a *api) resetSession(c *gin.Context, s *session.Session) {
	c.JSON(http.StatusOK, s.Reset(c.Request.Context()))
}

func (a *api) submit(c *gin.Context, s *session.Session) {
	done, started := s.Submit(c.Request.Context())
	if !started {
		c.JSON(http.StatusConflict, gin.H{"error": "session is not ready for classification", "session": s.View()})
		return
	}

	if c.Query("wait") == "true" {
		select {
		case <-done:
			c.JSON(http.StatusOK, s.View())
		case <-c.Request.Context().Done():
		}
		return
	}
	c.JSON(http.StatusAccepted, s.View())
}

func (a *api) closeSession(c *gin.Context) {
	if err := a.sessions.Close(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) getPreview(c *gin.Context) {
	img, err := a.previews.Open(c.Request.Context(), preview.Handle(c.Param("handle")))
	if err != nil {
		if errors.Is(err, preview.ErrUnknownHandle) {
			c.JSON(http.StatusNotFound, gin.H{"error": "preview not found"})
			return
		}
		a.logger.Error("preview lookup failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "preview storage unavailable"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("Content-Security-Policy", "default-src 'none'; sandbox")
	c.Data(http.StatusOK, img.MediaType, img.Data)
}

func (a *api) listBreeds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breeds": a.catalog.Labels()})
}

func (a *api) getBreed(c *gin.Context) {
	meta, err := a.catalog.Get(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "breed not found"})
		return
	}
	c.JSON(http.StatusOK, meta)
}
