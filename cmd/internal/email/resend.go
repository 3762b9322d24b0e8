package email

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
)

// ResendSender delivers through the Resend API.
type ResendSender struct {
	client  *resend.Client
	from    string
	linkTTL string
}

type resendOptions struct {
	baseURL    string
	httpClient *http.Client
	linkTTL    time.Duration
}

type ResendOption func(*resendOptions)

// WithBaseURL points the client at another API root (tests, regional endpoints).
func WithBaseURL(u string) ResendOption {
	return func(o *resendOptions) { o.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) ResendOption {
	return func(o *resendOptions) { o.httpClient = c }
}

// WithLinkTTL sets the expiry wording rendered in the message body.
func WithLinkTTL(d time.Duration) ResendOption {
	return func(o *resendOptions) { o.linkTTL = d }
}

func NewResendSender(apiKey, from string, opts ...ResendOption) (*ResendSender, error) {
	apiKey = strings.TrimSpace(apiKey)
	from = strings.TrimSpace(from)
	if apiKey == "" {
		return nil, errors.New("email: resend api key is required")
	}
	if from == "" {
		return nil, errors.New("email: from address is required")
	}

	o := resendOptions{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		linkTTL:    15 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	client := resend.NewCustomClient(o.httpClient, apiKey)
	if o.baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(o.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("email: resend base url: %w", err)
		}
		client.BaseURL = u
	}
	return &ResendSender{client: client, from: from, linkTTL: humanMinutes(o.linkTTL)}, nil
}

func (s *ResendSender) Send(ctx context.Context, to, verifyURL string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return ErrInvalidRecipient
	}
	html, err := RenderLink(verifyURL, s.linkTTL)
	if err != nil {
		return fmt.Errorf("email: render: %w", err)
	}
	_, err = s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: Subject,
		Html:    html,
	})
	if err != nil {
		return fmt.Errorf("email: resend: %w", err)
	}
	return nil
}

func humanMinutes(d time.Duration) string {
	m := int(d.Round(time.Minute) / time.Minute)
	if m <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
