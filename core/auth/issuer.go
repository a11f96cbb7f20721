// Package auth exchanges a subscription key for a short-lived authorization
// token.
package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/koscakluka/ema-speech/core/events"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	issueTokenURL  = "https://%s.api.cognitive.microsoft.com/sts/v1.0/issueToken"
	defaultTimeout = 10 * time.Second
	// Tokens are a few hundred bytes; anything larger is not a token.
	maxTokenSize = 64 << 10
)

type Issuer struct {
	endpoint        string
	subscriptionKey string
	client          *http.Client
}

type IssuerOption func(*Issuer)

// WithEndpoint overrides the token endpoint derived from the region.
func WithEndpoint(endpoint string) IssuerOption {
	return func(i *Issuer) {
		i.endpoint = endpoint
	}
}

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(client *http.Client) IssuerOption {
	return func(i *Issuer) {
		i.client = client
	}
}

func NewIssuer(region, subscriptionKey string, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		endpoint:        fmt.Sprintf(issueTokenURL, region),
		subscriptionKey: subscriptionKey,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Issuer) IssueToken(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "issue token")
	defer span.End()
	span.SetAttributes(attribute.String("auth.endpoint", i.endpoint))

	token, err := i.issueToken(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return token, nil
}

func (i *Issuer) issueToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", i.subscriptionKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request token: %w: %w", events.ErrConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenSize))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w: %w", events.ErrConnection, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		logger.Warn("token request rejected", "status", resp.StatusCode)
		return "", fmt.Errorf("failed to issue token: %w: %s", events.ErrAuth, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("failed to issue token: %w: %s", events.ErrService, resp.Status)
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", fmt.Errorf("failed to issue token: %w: empty token", events.ErrService)
	}
	return token, nil
}
