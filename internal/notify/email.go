package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"image"
	"image/jpeg"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/yashwanth-gh/overlook/internal/models"
)

// Snapshot JPEGs embedded in digests use a higher quality than the ones
// persisted to blob storage.
const digestJPEGQuality = 90

// EmailError wraps a failed mail-relay post.
type EmailError struct {
	Recipients int
	Err        error
}

func (e *EmailError) Error() string {
	return fmt.Sprintf("email send to %d recipients: %v", e.Recipients, e.Err)
}
func (e *EmailError) Unwrap() error { return e.Err }

// EmailConfig configures the mail-relay client.
type EmailConfig struct {
	// Endpoint is the external relay function URL accepting
	// { recipients, subject, body, imageBase64? }.
	Endpoint    string
	SendTimeout time.Duration
}

// Mailer posts digest payloads to the external mail-relay endpoint.
type Mailer struct {
	endpoint string
	client   *resty.Client
	logger   *zap.Logger
}

// NewMailer builds the relay client.
func NewMailer(cfg EmailConfig, logger *zap.Logger) *Mailer {
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	return &Mailer{
		endpoint: cfg.Endpoint,
		client:   resty.New().SetTimeout(cfg.SendTimeout),
		logger:   logger.Named("mailer"),
	}
}

type emailPayload struct {
	Recipients  []string `json:"recipients"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	ImageBase64 string   `json:"imageBase64,omitempty"`
}

// Send posts one digest to the relay. A non-2xx response is an error; the
// caller decides whether to surface it.
func (m *Mailer) Send(ctx context.Context, recipients []string, subject, htmlBody string, snapshot image.Image) error {
	payload := emailPayload{
		Recipients: recipients,
		Subject:    subject,
		Body:       htmlBody,
	}
	if snapshot != nil {
		encoded, err := encodeSnapshot(snapshot)
		if err != nil {
			return &EmailError{Recipients: len(recipients), Err: err}
		}
		payload.ImageBase64 = encoded
	}

	resp, err := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(m.endpoint)
	if err != nil {
		return &EmailError{Recipients: len(recipients), Err: err}
	}
	if resp.IsError() {
		return &EmailError{
			Recipients: len(recipients),
			Err:        fmt.Errorf("relay returned %d", resp.StatusCode()),
		}
	}
	m.logger.Debug("digest posted", zap.Int("recipients", len(recipients)))
	return nil
}

func encodeSnapshot(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: digestJPEGQuality}); err != nil {
		return "", fmt.Errorf("snapshot encode: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// digestEntry is one detection row in the digest body.
type digestEntry struct {
	Index      int
	Label      string
	Confidence string
	Time       string
}

type digestData struct {
	Entries     []digestEntry
	GeneratedAt string
}

var digestTemplate = template.Must(template.New("digest").Parse(`<html>
<body>
<h2>Hello,</h2>
{{if .Entries}}
<p>The security system has detected the following:</p>
<h3>Person Detection Report</h3>
{{range .Entries}}
<div style="margin-bottom: 20px; padding: 10px; border: 1px solid #ddd; border-radius: 5px;">
<h4>Person {{.Index}}</h4>
<ul>
<li><b>Label:</b> {{.Label}}</li>
<li><b>Confidence:</b> {{.Confidence}}%</li>
<li><b>Detection Time:</b> {{.Time}}</li>
</ul>
</div>
{{end}}
{{else}}
<p>No person was detected during the monitoring period.</p>
{{end}}
<p>Report generated at: {{.GeneratedAt}}</p>
<p>Regards,<br>Your Security System</p>
</body>
</html>
`))

// BuildDigestBody renders the HTML digest enumerating each detection's
// label, confidence and timestamp, or a "no detections" message.
func BuildDigestBody(detections []models.DetectionResult, now time.Time) (string, error) {
	data := digestData{GeneratedAt: now.Format("2006-01-02 15:04:05")}
	for i, d := range detections {
		data.Entries = append(data.Entries, digestEntry{
			Index:      i + 1,
			Label:      d.Label,
			Confidence: fmt.Sprintf("%.2f", d.Confidence*100),
			Time:       now.Format("2006-01-02 15:04:05"),
		})
	}
	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("digest render: %w", err)
	}
	return buf.String(), nil
}
