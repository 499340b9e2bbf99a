package vision

import (
	"context"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashwanth-gh/overlook/internal/models"
)

func testFrame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 16, 16))
}

func TestAnalyzePostsJPEGAndParsesDetections(t *testing.T) {
	var contentType string
	var bodyPrefix []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		bodyPrefix = data[:2]

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detections":[
			{"label":"person","confidence":0.93,"box":{"x":10,"y":20,"width":30,"height":40}},
			{"label":"dog","confidence":0.88,"box":{"x":1,"y":2,"width":3,"height":4}}
		]}`))
	}))
	defer server.Close()

	a := NewRemoteAnalyzer(Config{Endpoint: server.URL}, zap.NewNop())
	results, err := a.Analyze(context.Background(), testFrame())
	require.NoError(t, err)

	assert.Equal(t, "image/jpeg", contentType)
	assert.Equal(t, []byte{0xff, 0xd8}, bodyPrefix, "payload is a JPEG")

	require.Len(t, results, 2)
	assert.Equal(t, models.DetectionResult{
		Label:      "person",
		Confidence: 0.93,
		Box:        models.BoundingBox{X: 10, Y: 20, Width: 30, Height: 40},
	}, results[0])
	assert.Equal(t, "dog", results[1].Label)
}

func TestAnalyzeFiltersByConfidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detections":[
			{"label":"person","confidence":0.93},
			{"label":"person","confidence":0.31}
		]}`))
	}))
	defer server.Close()

	a := NewRemoteAnalyzer(Config{Endpoint: server.URL, MinConfidence: 0.5}, zap.NewNop())
	results, err := a.Analyze(context.Background(), testFrame())
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.InDelta(t, 0.93, float64(results[0].Confidence), 1e-6)
}

func TestAnalyzeSurfacesServiceErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	a := NewRemoteAnalyzer(Config{Endpoint: server.URL}, zap.NewNop())
	_, err := a.Analyze(context.Background(), testFrame())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestAnalyzeEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detections":[]}`))
	}))
	defer server.Close()

	a := NewRemoteAnalyzer(Config{Endpoint: server.URL}, zap.NewNop())
	results, err := a.Analyze(context.Background(), testFrame())
	require.NoError(t, err)
	assert.Empty(t, results)
}
