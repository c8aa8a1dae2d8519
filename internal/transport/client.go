// Package transport implements the wire protocol against the remote
// spreadsheet-backed endpoint.
//
// Outbound writes are response-blind by default: the endpoint is invoked the
// way a cross-origin no-cors browser call would be, so a request that reaches
// the network without a transport error counts as "probably succeeded" even
// though the remote acknowledgment cannot be inspected. The ObserveResponse
// capability turns HTTP status checking back on for deployments where the
// endpoint is readable.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/frotahub/frotahub/internal/schema"
)

// PingSentinel is the token the endpoint returns on an action=ping probe.
const PingSentinel = "FROTAHUB_OK"

// DefaultWriteTimeout bounds each outbound write so one stuck item cannot
// hang a sync pass indefinitely.
const DefaultWriteTimeout = 20 * time.Second

var (
	// ErrNoEndpoint indicates no remote endpoint URL is configured.
	ErrNoEndpoint = errors.New("no endpoint configured")

	// ErrBadPayload indicates the pull response was not JSON of a known shape.
	ErrBadPayload = errors.New("malformed remote payload")

	// ErrRemoteRejected indicates the endpoint answered a write with a
	// non-success status. Only possible when ObserveResponse is enabled.
	ErrRemoteRejected = errors.New("remote rejected write")
)

// EnvelopeType discriminates outbound payloads.
type EnvelopeType string

const (
	// EnvelopeReport wraps one fleet-status submission.
	EnvelopeReport EnvelopeType = "report"
	// EnvelopeConfigUpdate wraps the full unit roster.
	EnvelopeConfigUpdate EnvelopeType = "config_update"
)

// Envelope is the outbound wire format: {"type": ..., "data": ...}.
// Build one with NewReportEnvelope or NewConfigUpdateEnvelope so the type tag
// and payload cannot drift apart.
type Envelope struct {
	Type EnvelopeType    `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewReportEnvelope wraps a submission for outbound push.
func NewReportEnvelope(sub *schema.Submission) (Envelope, error) {
	data, err := json.Marshal(sub)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal submission %s: %w", sub.ID, err)
	}
	return Envelope{Type: EnvelopeReport, Data: data}, nil
}

// NewConfigUpdateEnvelope wraps the full unit roster for publishing.
func NewConfigUpdateEnvelope(units []schema.Unit) (Envelope, error) {
	data, err := json.Marshal(units)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal roster: %w", err)
	}
	return Envelope{Type: EnvelopeConfigUpdate, Data: data}, nil
}

// Capability describes what the transport can observe about the endpoint.
type Capability struct {
	// ObserveResponse reports whether HTTP status codes of writes are
	// meaningful. When false (the no-cors default) a write that reaches the
	// network is treated as successful regardless of what the endpoint did
	// with it.
	ObserveResponse bool
}

// PullResponse is the parsed result of an inbound pull.
type PullResponse struct {
	// Submissions is the authoritative remote record set.
	Submissions []*schema.Submission
	// Roster is the published unit roster; nil or empty means the endpoint
	// did not carry one and the local roster must be kept.
	Roster []schema.Unit
}

// Config holds client configuration.
type Config struct {
	// Endpoint is the remote URL. Empty disables all calls.
	Endpoint string

	// Capability describes response observability. Zero value is the
	// response-blind default.
	Capability Capability

	// WriteTimeout bounds each outbound write (default: 20s).
	WriteTimeout time.Duration

	// PullAction appends action=get_all to pull requests, for endpoint
	// variants that multiplex several actions on one URL.
	PullAction bool

	// HTTPClient overrides the HTTP client, mainly for tests.
	HTTPClient *http.Client

	// Logger for transport activity.
	Logger *log.Logger
}

// Client speaks the ad hoc JSON-over-HTTP protocol of the remote endpoint.
type Client struct {
	endpoint   string
	capability Capability
	timeout    time.Duration
	pullAction bool
	httpc      *http.Client
	logger     *log.Logger
	now        func() time.Time // cache buster, injectable in tests
}

// New creates a client from the given configuration.
func New(config Config) *Client {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}

	return &Client{
		endpoint:   config.Endpoint,
		capability: config.Capability,
		timeout:    config.WriteTimeout,
		pullAction: config.PullAction,
		httpc:      config.HTTPClient,
		logger:     config.Logger,
		now:        time.Now,
	}
}

// HasEndpoint reports whether a remote endpoint is configured.
func (c *Client) HasEndpoint() bool {
	return c.endpoint != ""
}

// Capability returns the transport's observability capability.
func (c *Client) Capability() Capability {
	return c.capability
}

// Push sends an envelope to the endpoint.
//
// The body goes out as text/plain (the content type the original endpoint
// accepts without a preflight). The response body is drained and discarded;
// unless ObserveResponse is set, the status code is not consulted.
func (c *Client) Push(ctx context.Context, env Envelope) error {
	if c.endpoint == "" {
		return ErrNoEndpoint
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if c.capability.ObserveResponse && resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrRemoteRejected, resp.StatusCode)
	}

	return nil
}

// PushReport sends one submission as a report envelope.
func (c *Client) PushReport(ctx context.Context, sub *schema.Submission) error {
	env, err := NewReportEnvelope(sub)
	if err != nil {
		return err
	}
	return c.Push(ctx, env)
}

// PublishRoster sends the full unit roster as a config_update envelope.
// This is a full-replace publish; other devices converge on it on their next
// pull.
func (c *Client) PublishRoster(ctx context.Context, units []schema.Unit) error {
	env, err := NewConfigUpdateEnvelope(units)
	if err != nil {
		return err
	}
	return c.Push(ctx, env)
}

// Pull fetches the authoritative remote record set.
//
// The request carries a timestamp query parameter and a no-store directive to
// defeat intermediary caches. The body may be either a bare submission array
// or an envelope {"submissions": [...], "config": [...]}; both parse into a
// PullResponse with operational dates normalized to date-only form.
func (c *Client) Pull(ctx context.Context) (*PullResponse, error) {
	if c.endpoint == "" {
		return nil, ErrNoEndpoint
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(c.now().UnixMilli(), 10))
	if c.pullAction {
		q.Set("action", "get_all")
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build pull request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pull failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pull failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pull response: %w", err)
	}

	pull, err := parsePullBody(body)
	if err != nil {
		return nil, err
	}

	for _, sub := range pull.Submissions {
		sub.Normalize()
	}

	c.logger.Printf("Pulled %d submissions (roster: %d units)",
		len(pull.Submissions), len(pull.Roster))
	return pull, nil
}

// parsePullBody accepts either a bare submission array or the
// {"submissions", "config"} envelope.
func parsePullBody(body []byte) (*PullResponse, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrBadPayload)
	}

	if trimmed[0] == '[' {
		var subs []*schema.Submission
		if err := json.Unmarshal(trimmed, &subs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return &PullResponse{Submissions: subs}, nil
	}

	var envelope struct {
		Submissions []*schema.Submission `json:"submissions"`
		Config      []schema.Unit        `json:"config"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if envelope.Submissions == nil && envelope.Config == nil {
		return nil, fmt.Errorf("%w: body carries neither submissions nor config", ErrBadPayload)
	}

	return &PullResponse{
		Submissions: envelope.Submissions,
		Roster:      envelope.Config,
	}, nil
}

// Ping probes the endpoint with action=ping and checks for the sentinel
// token in the body.
func (c *Client) Ping(ctx context.Context) error {
	if c.endpoint == "" {
		return ErrNoEndpoint
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("action", "ping")
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build ping request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read ping response: %w", err)
	}

	if !strings.Contains(string(body), PingSentinel) {
		return fmt.Errorf("endpoint did not answer with %q", PingSentinel)
	}

	return nil
}
