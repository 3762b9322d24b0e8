// Package email delivers login links.
package email

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"log/slog"
	"strings"
)

// Subject of every login-link message.
const Subject = "AGRON System Access"

// ErrInvalidRecipient is returned before any delivery attempt.
var ErrInvalidRecipient = errors.New("email: invalid recipient")

// Sender delivers a verification URL to an address.
type Sender interface {
	Send(ctx context.Context, to, verifyURL string) error
}

var linkTemplate = template.Must(template.New("link").Parse(`<div style="font-family: monospace; color: #333;">
  <h2>AGRON | Secure Gateway</h2>
  <p>An access request was initiated for this identity.</p>
  <p>Click the link below to verify your session. This link expires in {{.TTL}}.</p>
  <a href="{{.URL}}" style="display: inline-block; background: #000; color: #fff; padding: 12px 24px; text-decoration: none; font-weight: bold;">AUTHENTICATE</a>
  <p style="margin-top: 24px; font-size: 12px; color: #666;">If you did not request this, ignore this transmission.</p>
</div>
`))

// RenderLink renders the HTML body for a login link.
func RenderLink(verifyURL, ttl string) (string, error) {
	var buf bytes.Buffer
	if err := linkTemplate.Execute(&buf, struct{ URL, TTL string }{verifyURL, ttl}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// LogSender writes the link to the log instead of delivering it. Development only.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(ctx context.Context, to, verifyURL string) error {
	if strings.TrimSpace(to) == "" {
		return ErrInvalidRecipient
	}
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "email.dev.login_link", "to", to, "subject", Subject, "link", verifyURL)
	return nil
}
