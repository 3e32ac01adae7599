// Package email sends newsletter emails. Client talks to a Postmark-style
// HTTP email API; LogSender only logs and is meant for local runs.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-newsletter/internal/domain"
)

// HeaderServerToken carries the API credential on every request.
const HeaderServerToken = "X-Postmark-Server-Token"

// Sender delivers one email. Implementations apply their own timeout.
type Sender interface {
	Send(ctx context.Context, to domain.SubscriberEmail, subject, htmlBody, textBody string) error
}

// SendError is returned when the API answers with a non-2xx status.
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("email api returned %d: %s", e.StatusCode, e.Body)
}

// Client is an HTTP email API client. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	sender     domain.SubscriberEmail
	token      string
}

// NewClient returns a client that posts to baseURL with the given sender
// address and API token. timeout bounds each request.
func NewClient(baseURL string, sender domain.SubscriberEmail, token string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		sender:     sender,
		token:      token,
	}
}

type sendEmailRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// Send posts one email to {baseURL}/email.
func (c *Client) Send(ctx context.Context, to domain.SubscriberEmail, subject, htmlBody, textBody string) error {
	payload, err := json.Marshal(sendEmailRequest{
		From:     c.sender.String(),
		To:       to.String(),
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderServerToken, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return &SendError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LogSender logs every email instead of sending it.
type LogSender struct{}

// Send logs the email at info level and succeeds.
func (LogSender) Send(_ context.Context, to domain.SubscriberEmail, subject, htmlBody, textBody string) error {
	log.Info().
		Str("to", to.String()).
		Str("subject", subject).
		Int("html_bytes", len(htmlBody)).
		Int("text_bytes", len(textBody)).
		Msg("email (log backend)")
	return nil
}
