package notify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashwanth-gh/overlook/internal/models"
)

func TestMailerPostsDigestPayload(t *testing.T) {
	var got emailPayload
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer relay.Close()

	m := NewMailer(EmailConfig{Endpoint: relay.URL}, zap.NewNop())
	snapshot := image.NewRGBA(image.Rect(0, 0, 4, 4))
	err := m.Send(context.Background(), []string{"a@example.com", "b@example.com"},
		"Surveillance Alert from porch-cam", "<html>digest</html>", snapshot)
	require.NoError(t, err)

	assert.Equal(t, []string{"a@example.com", "b@example.com"}, got.Recipients)
	assert.Equal(t, "Surveillance Alert from porch-cam", got.Subject)
	assert.Equal(t, "<html>digest</html>", got.Body)

	raw, err := base64.StdEncoding.DecodeString(got.ImageBase64)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, raw[:2], "embedded image is a JPEG")
}

func TestMailerOmitsImageWithoutSnapshot(t *testing.T) {
	var body map[string]any
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))
	defer relay.Close()

	m := NewMailer(EmailConfig{Endpoint: relay.URL}, zap.NewNop())
	require.NoError(t, m.Send(context.Background(), []string{"a@example.com"}, "s", "b", nil))

	assert.NotContains(t, body, "imageBase64")
}

func TestMailerSurfacesRelayErrors(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer relay.Close()

	m := NewMailer(EmailConfig{Endpoint: relay.URL}, zap.NewNop())
	err := m.Send(context.Background(), []string{"a@example.com"}, "s", "b", nil)

	var emailErr *EmailError
	require.ErrorAs(t, err, &emailErr)
	assert.Equal(t, 1, emailErr.Recipients)
	assert.Contains(t, emailErr.Error(), "502")
}

func TestBuildDigestBodyListsDetections(t *testing.T) {
	now := time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC)
	body, err := BuildDigestBody([]models.DetectionResult{
		{Label: "person", Confidence: 0.8765},
		{Label: "person", Confidence: 0.91},
	}, now)
	require.NoError(t, err)

	assert.Contains(t, body, "Person Detection Report")
	assert.Contains(t, body, "Person 1")
	assert.Contains(t, body, "Person 2")
	assert.Contains(t, body, "87.65%")
	assert.Contains(t, body, "91.00%")
	assert.Contains(t, body, "2026-09-01 14:30:00")
	assert.NotContains(t, body, "No person was detected")
}

func TestBuildDigestBodyEmptyVariant(t *testing.T) {
	body, err := BuildDigestBody(nil, time.Now())
	require.NoError(t, err)
	assert.Contains(t, body, "No person was detected during the monitoring period.")
	assert.NotContains(t, body, "Person Detection Report")
}
