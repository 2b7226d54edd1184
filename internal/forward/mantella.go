package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/dialogue"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/observe"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/resilience"
)

// Defaults for [MantellaConfig].
const (
	DefaultBaseURL = "http://localhost"
	DefaultPort    = 4999
	DefaultRoute   = "add_message"
	DefaultTimeout = 3 * time.Second
)

// MantellaConfig addresses the Mantella server's add-message endpoint.
type MantellaConfig struct {
	BaseURL  string
	Port     int
	Route    string
	Username string
	Password string

	// Timeout bounds a single request. Default: 3s.
	Timeout time.Duration

	// Breaker tunes the circuit breaker. The name defaults to "mantella".
	Breaker resilience.Config
}

// URL returns the full endpoint URL.
func (c MantellaConfig) URL() string {
	return strings.TrimRight(c.BaseURL, "/") + ":" + strconv.Itoa(c.Port) + "/" + strings.TrimLeft(c.Route, "/")
}

// addMessageRequest is the JSON body of the add-message endpoint.
type addMessageRequest struct {
	Message       string `json:"message"`
	CharacterName string `json:"characterName"`
}

// Mantella posts messages to a Mantella server.
// All methods are safe for concurrent use.
type Mantella struct {
	cfg     MantellaConfig
	url     string
	client  *http.Client
	breaker *resilience.Breaker
}

// MantellaOption configures a [Mantella] client.
type MantellaOption func(*Mantella)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) MantellaOption {
	return func(m *Mantella) { m.client = c }
}

var _ Forwarder = (*Mantella)(nil)

// NewMantella creates a client. Zero-value config fields take the package
// defaults.
func NewMantella(cfg MantellaConfig, opts ...MantellaOption) *Mantella {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Route == "" {
		cfg.Route = DefaultRoute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "mantella"
	}
	m := &Mantella{
		cfg:     cfg,
		url:     cfg.URL(),
		client:  &http.Client{},
		breaker: resilience.NewBreaker(cfg.Breaker),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Breaker exposes the client's circuit breaker for health reporting.
func (m *Mantella) Breaker() *resilience.Breaker { return m.breaker }

// Forward implements [Forwarder]. A non-2xx status, transport error, or open
// breaker is returned as an error wrapping [dialogue.ErrForwardFailed].
func (m *Mantella) Forward(ctx context.Context, msg Message) error {
	ctx, span := observe.StartSpan(ctx, "mantella.add_message")
	defer span.End()

	body, err := json.Marshal(addMessageRequest{Message: msg.Text, CharacterName: msg.CharacterName})
	if err != nil {
		return fmt.Errorf("forward: mantella: encode: %w: %w", dialogue.ErrForwardFailed, err)
	}

	err = m.breaker.Do(ctx, func(ctx context.Context) error {
		return m.post(ctx, body)
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, dialogue.ErrForwardFailed) {
			return err
		}
		return fmt.Errorf("forward: mantella: %w: %w", dialogue.ErrForwardFailed, err)
	}
	return nil
}

func (m *Mantella) post(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if m.cfg.Username != "" || m.cfg.Password != "" {
		req.SetBasicAuth(m.cfg.Username, m.cfg.Password)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("forward: mantella: status %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(detail)), dialogue.ErrForwardFailed)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
