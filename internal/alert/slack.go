// Package alert sends motion notifications to a Slack incoming webhook.
package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Payload is the Slack incoming-webhook message body.
type Payload struct {
	Text     string `json:"text"`
	Channel  string `json:"channel,omitempty"`
	Username string `json:"username,omitempty"`
}

// Slack posts messages to an incoming-webhook URL. There is no delivery
// guarantee beyond the POST having been attempted.
type Slack struct {
	url      string
	channel  string
	username string
	client   *http.Client
	log      *zap.Logger
}

// NewSlack validates the webhook URL and returns a messenger bound to the
// given channel and username.
func NewSlack(webhookURL, channel, username string, log *zap.Logger) (*Slack, error) {
	if log == nil {
		log = zap.L()
	}

	u, err := url.Parse(webhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid slack webhook URL %q", webhookURL)
	}

	return &Slack{
		url:      webhookURL,
		channel:  channel,
		username: username,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log.Named("slack"),
	}, nil
}

// Payload builds the serialized webhook message for the given text.
func (s *Slack) Payload(text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("notification text is empty")
	}

	body, err := json.Marshal(Payload{
		Text:     text,
		Channel:  s.channel,
		Username: s.username,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal slack payload: %w", err)
	}
	return string(body), nil
}

// Send posts a previously built payload. A non-2xx response is an error.
func (s *Slack) Send(payload string) error {
	resp, err := s.client.Post(s.url, "application/json", bytes.NewBufferString(payload))
	if err != nil {
		return fmt.Errorf("slack webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	s.log.Debug("slack notification sent")
	return nil
}
