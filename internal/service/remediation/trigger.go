package remediation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/splax/localvercel/intake/pkg/jwt"
)

const (
	defaultTriggerTimeout = 10 * time.Second
	serviceTokenTTL       = 5 * time.Minute
)

// Trigger starts a remediation run for one record.
type Trigger interface {
	Trigger(ctx context.Context, errorID string) error
}

// HTTPTriggerConfig configures the outbound trigger call.
type HTTPTriggerConfig struct {
	BaseURL   string
	Path      string
	Token     string
	JWTSecret string
	Timeout   time.Duration
}

// HTTPTrigger posts {"errorId": id} to the internal remediation endpoint.
type HTTPTrigger struct {
	client    *http.Client
	url       string
	token     string
	jwtSecret string
}

// NewHTTPTrigger constructs the trigger client.
func NewHTTPTrigger(cfg HTTPTriggerConfig) *HTTPTrigger {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTriggerTimeout
	}
	path := cfg.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &HTTPTrigger{
		client:    &http.Client{Timeout: timeout},
		url:       strings.TrimRight(cfg.BaseURL, "/") + path,
		token:     strings.TrimSpace(cfg.Token),
		jwtSecret: strings.TrimSpace(cfg.JWTSecret),
	}
}

// Trigger sends the request and treats any non-2xx answer as failure.
func (t *HTTPTrigger) Trigger(ctx context.Context, errorID string) error {
	payload, err := json.Marshal(map[string]string{"errorId": errorID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	token, err := t.bearer()
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("trigger request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("trigger rejected: %s", resp.Status)
	}
	return nil
}

func (t *HTTPTrigger) bearer() (string, error) {
	if t.token != "" {
		return t.token, nil
	}
	if t.jwtSecret == "" {
		return "", nil
	}
	return jwt.GenerateToken("intake", "remediation:trigger", t.jwtSecret, serviceTokenTTL)
}
