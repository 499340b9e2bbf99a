// Package vision turns frames into labeled detections by calling an
// inference service over HTTP. Model execution stays off-device; this
// process only ships JPEGs and reads boxes back.
package vision

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/yashwanth-gh/overlook/internal/imagestore"
	"github.com/yashwanth-gh/overlook/internal/models"
)

const inferenceJPEGQuality = 80

// Analyzer produces detection results for one frame.
type Analyzer interface {
	Analyze(ctx context.Context, frame image.Image) ([]models.DetectionResult, error)
}

// Config points at the inference service.
type Config struct {
	Endpoint      string
	Timeout       time.Duration
	MinConfidence float32
}

// RemoteAnalyzer posts frames to the inference endpoint and filters the
// returned boxes by confidence.
type RemoteAnalyzer struct {
	client        *resty.Client
	endpoint      string
	minConfidence float32
	logger        *zap.Logger
}

// NewRemoteAnalyzer builds an analyzer over the configured endpoint.
func NewRemoteAnalyzer(cfg Config, logger *zap.Logger) *RemoteAnalyzer {
	client := resty.New()
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &RemoteAnalyzer{
		client:        client,
		endpoint:      cfg.Endpoint,
		minConfidence: cfg.MinConfidence,
		logger:        logger.Named("analyzer"),
	}
}

type inferenceResponse struct {
	Detections []struct {
		Label      string             `json:"label"`
		Confidence float32            `json:"confidence"`
		Box        models.BoundingBox `json:"box"`
	} `json:"detections"`
}

// Analyze encodes the frame as JPEG, submits it, and returns the detections
// at or above the configured confidence floor.
func (a *RemoteAnalyzer) Analyze(ctx context.Context, frame image.Image) ([]models.DetectionResult, error) {
	data, err := imagestore.EncodeJPEG(frame, inferenceJPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}

	var out inferenceResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "image/jpeg").
		SetBody(data).
		SetResult(&out).
		Post(a.endpoint)
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("inference request: status %d", resp.StatusCode())
	}

	var results []models.DetectionResult
	for _, d := range out.Detections {
		if d.Confidence < a.minConfidence {
			continue
		}
		results = append(results, models.DetectionResult{
			Label:      d.Label,
			Confidence: d.Confidence,
			Box:        d.Box,
		})
	}
	a.logger.Debug("frame analyzed",
		zap.Int("returned", len(out.Detections)),
		zap.Int("kept", len(results)))
	return results, nil
}
