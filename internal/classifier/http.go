package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/example/nandivision/internal/logging"
)

const (
	classifyPath = "/classify"
	// Longest error body copied into a StatusError.
	maxErrorBody = 512
)

// HTTPClient posts images to {baseURL}/classify as multipart form data.
type HTTPClient struct {
	rest   *resty.Client
	logger *zap.Logger
}

// NewHTTPClient returns a ready-to-use client for the classification service.
// A zero timeout leaves the request bounded only by its context.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	rest := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &HTTPClient{rest: rest, logger: logger.Named("classifier")}
}

// Classify sends exactly one request and decodes the success body. Failures
// are returned, not logged; the caller logs them where it handles them.
func (c *HTTPClient) Classify(ctx context.Context, req Request) (*Prediction, error) {
	filename := req.Filename
	if filename == "" {
		filename = "upload"
	}

	started := time.Now()
	resp, err := c.rest.R().
		SetContext(ctx).
		SetMultipartField("file", filename, req.MediaType, bytes.NewReader(req.Data)).
		Post(classifyPath)
	if err != nil {
		wrapped := logging.NewOperationError("classifier.classify", req.ID, err)
		c.logger.Debug("classification request failed", zap.Error(wrapped))
		return nil, wrapped
	}

	if !resp.IsSuccess() {
		body := strings.TrimSpace(resp.String())
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		wrapped := logging.NewOperationError("classifier.classify", req.ID, &StatusError{StatusCode: resp.StatusCode(), Body: body})
		c.logger.Debug("classification service rejected request", zap.Int("status", resp.StatusCode()), zap.String("request_id", req.ID))
		return nil, wrapped
	}

	var prediction Prediction
	if err := json.Unmarshal(resp.Body(), &prediction); err != nil {
		wrapped := logging.NewOperationError("classifier.decode_response", req.ID, fmt.Errorf("decode classification response: %w", err))
		c.logger.Debug("classification response is not valid JSON", zap.String("request_id", req.ID))
		return nil, wrapped
	}

	c.logger.Debug("classification received",
		zap.String("request_id", req.ID),
		zap.String("type", prediction.Type),
		zap.Duration("latency", time.Since(started)),
	)
	return &prediction, nil
}

// Ping checks that the service root answers with a 2xx status.
func (c *HTTPClient) Ping(ctx context.Context) error {
	resp, err := c.rest.R().SetContext(ctx).Get("/")
	if err != nil {
		return logging.NewOperationError("classifier.ping", "", err)
	}
	if !resp.IsSuccess() {
		return logging.NewOperationError("classifier.ping", "", &StatusError{StatusCode: resp.StatusCode()})
	}
	return nil
}
