package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func staticTokens() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-bearer"})
}

func TestPusherSendsExpectedPayload(t *testing.T) {
	var got struct {
		Message struct {
			Token        string `json:"token"`
			Notification struct {
				Title string `json:"title"`
				Body  string `json:"body"`
			} `json:"notification"`
		} `json:"message"`
	}
	var auth, contentType string

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	p := NewPusherWithTokenSource(gateway.URL, staticTokens(), gateway.Client(), zap.NewNop())
	err := p.Send(context.Background(), "tok-1", "Person Detected!", "2 person(s) detected by the surveillance device.")
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-bearer", auth)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "tok-1", got.Message.Token)
	assert.Equal(t, "Person Detected!", got.Message.Notification.Title)
	assert.Equal(t, "2 person(s) detected by the surveillance device.", got.Message.Notification.Body)
}

func TestPusherSurfacesGatewayErrors(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "UNREGISTERED", http.StatusNotFound)
	}))
	defer gateway.Close()

	p := NewPusherWithTokenSource(gateway.URL, staticTokens(), gateway.Client(), zap.NewNop())
	err := p.Send(context.Background(), "stale-token", "t", "b")

	var pushErr *PushError
	require.ErrorAs(t, err, &pushErr)
	assert.Equal(t, "stale-token", pushErr.Token)
	assert.Contains(t, pushErr.Error(), "404")
	assert.Contains(t, pushErr.Error(), "UNREGISTERED")
}

type failingTokens struct{}

func (failingTokens) Token() (*oauth2.Token, error) {
	return nil, errors.New("service account revoked")
}

func TestPusherSurfacesCredentialFailure(t *testing.T) {
	p := NewPusherWithTokenSource("http://unused.local", failingTokens{}, nil, zap.NewNop())
	err := p.Send(context.Background(), "tok", "t", "b")

	var pushErr *PushError
	require.ErrorAs(t, err, &pushErr)
	assert.Contains(t, pushErr.Error(), "credential refresh")
}
