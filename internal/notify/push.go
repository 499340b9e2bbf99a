package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"go.uber.org/zap"
)

const (
	messagingScope     = "https://www.googleapis.com/auth/firebase.messaging"
	defaultSendTimeout = 30 * time.Second
)

// PushError wraps a failed push-gateway send.
type PushError struct {
	Token string
	Err   error
}

func (e *PushError) Error() string { return fmt.Sprintf("push send to %s: %v", e.Token, e.Err) }
func (e *PushError) Unwrap() error { return e.Err }

// PushConfig configures the push-gateway client.
type PushConfig struct {
	// Endpoint is the full message-send URL, e.g.
	// https://fcm.googleapis.com/v1/projects/<project>/messages:send
	Endpoint string

	// CredentialsFile points at the service-account JSON used to mint
	// bearer tokens scoped to messaging.
	CredentialsFile string

	SendTimeout time.Duration
}

// Pusher delivers push notifications to addressing tokens over the gateway's
// HTTP interface. Bearer tokens come from a service-account token source and
// are refreshed lazily before each send when expired.
type Pusher struct {
	endpoint string
	client   *http.Client
	tokens   oauth2.TokenSource
	logger   *zap.Logger
}

// NewPusher loads the service-account credentials and builds the client.
func NewPusher(ctx context.Context, cfg PushConfig, logger *zap.Logger) (*Pusher, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("push gateway endpoint is required")
	}
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read push credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, messagingScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse push credentials: %w", err)
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Pusher{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.SendTimeout},
		tokens:   creds.TokenSource,
		logger:   logger.Named("push"),
	}, nil
}

// NewPusherWithTokenSource builds a Pusher with an explicit token source and
// HTTP client. Used by tests to point at a local gateway.
func NewPusherWithTokenSource(endpoint string, ts oauth2.TokenSource, client *http.Client, logger *zap.Logger) *Pusher {
	if client == nil {
		client = &http.Client{Timeout: defaultSendTimeout}
	}
	return &Pusher{endpoint: endpoint, client: client, tokens: ts, logger: logger.Named("push")}
}

type pushMessage struct {
	Message struct {
		Token        string `json:"token"`
		Notification struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		} `json:"notification"`
	} `json:"message"`
}

// Send pushes one title/body pair to a single addressing token.
func (p *Pusher) Send(ctx context.Context, token, title, body string) error {
	var msg pushMessage
	msg.Message.Token = token
	msg.Message.Notification.Title = title
	msg.Message.Notification.Body = body

	payload, err := json.Marshal(msg)
	if err != nil {
		return &PushError{Token: token, Err: err}
	}

	// TokenSource caches and refreshes only when expired.
	bearer, err := p.tokens.Token()
	if err != nil {
		return &PushError{Token: token, Err: fmt.Errorf("credential refresh: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return &PushError{Token: token, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer.AccessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return &PushError{Token: token, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &PushError{
			Token: token,
			Err:   fmt.Errorf("gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(detail)),
		}
	}

	p.logger.Debug("push delivered", zap.String("token", token))
	return nil
}
