// Package stream is the client for the chatbot's server-sent-event query endpoint.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/hyperjump/nestelia/internal/config"
	"github.com/hyperjump/nestelia/internal/models"
)

// ErrNotEventStream is returned when the endpoint answers with something other than text/event-stream.
var ErrNotEventStream = errors.New("response is not an event stream")

// HTTPError is a non-success status returned when the stream was opened.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// SessionInfo describes an in-flight session.
type SessionInfo struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	State       string    `json:"state"`
	AnswerBytes int       `json:"answer_bytes"`
	StartedAt   time.Time `json:"started_at"`
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the underlying HTTP client. The streaming client never sets a timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = resty.NewWithClient(hc) }
}

// Client submits questions and consumes the streamed answers. Calls may overlap;
// each owns its own session.
type Client struct {
	client      *resty.Client
	url         string
	maxResults  int
	useModelVps bool
	logger      *zap.Logger

	mu       sync.Mutex
	inFlight map[string]*Session
}

// NewClient returns a client for the endpoint described by cfg.
func NewClient(cfg config.StreamConfig, opts ...Option) *Client {
	c := &Client{
		client:      resty.NewWithClient(&http.Client{}),
		url:         cfg.StreamURL(),
		maxResults:  cfg.MaxResults,
		useModelVps: cfg.UseModelVps,
		logger:      zap.NewNop(),
		inFlight:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query is QueryStream without a token callback.
func (c *Client) Query(ctx context.Context, q models.Query) (*models.QueryResponse, error) {
	return c.QueryStream(ctx, q, nil)
}

// QueryStream posts q and consumes the event stream until a terminal event, the end of
// the stream, a transport error or cancellation of ctx. onToken, when non-nil, is called
// for every answer token in arrival order.
func (c *Client) QueryStream(ctx context.Context, q models.Query, onToken func(string)) (*models.QueryResponse, error) {
	if err := q.Validate(c.maxResults); err != nil {
		return nil, err
	}
	if !q.UseModelVps {
		q.UseModelVps = c.useModelVps
	}

	s := NewSession(uuid.NewString(), q.Question, onToken, c.logger)
	c.track(s)
	defer c.untrack(s)

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "text/event-stream").
		SetBody(q).
		SetDoNotParseResponse(true).
		Post(c.url)
	if err != nil {
		return nil, c.cancelled(ctx, fmt.Errorf("open stream: %w", err))
	}
	// resp.Body is the decompressed stream; RawResponse.Body is left unread.
	body := resp.Body
	defer body.Close()

	if err := checkOpen(resp.RawResponse, body); err != nil {
		return nil, err
	}

	s.Start()
	c.logger.Debug("Stream opened", zap.String("session", s.ID))
	c.consume(ctx, s, body)
	return s.Result()
}

// checkOpen validates the response that opened the stream.
func checkOpen(resp *http.Response, body io.Reader) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(body, 64<<10))
		return &HTTPError{Status: resp.StatusCode, Body: string(text)}
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return ErrNotEventStream
	}
	return nil
}

// consume reads events into s until it completes.
func (c *Client) consume(ctx context.Context, s *Session, body io.Reader) {
	r := NewReader(body)
	for {
		raw, err := r.Next()
		if err == io.EOF {
			s.Close(nil)
			return
		}
		if err != nil {
			s.Close(c.cancelled(ctx, err))
			return
		}

		ev, err := Decode(raw)
		if err != nil {
			c.logger.Warn("Skipping malformed event",
				zap.String("session", s.ID),
				zap.String("event", raw.Event),
				zap.String("data", raw.Data),
				zap.Error(err))
			continue
		}
		if s.Apply(ev) {
			return
		}
	}
}

// cancelled prefers the context error when ctx ended the transport.
func (c *Client) cancelled(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (c *Client) track(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight[s.ID] = s
}

func (c *Client) untrack(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, s.ID)
}

// InFlight lists the sessions currently streaming, oldest first.
func (c *Client) InFlight() []SessionInfo {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.inFlight))
	for _, s := range c.inFlight {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			ID:          s.ID,
			Question:    s.Question,
			State:       s.State().String(),
			AnswerBytes: s.AnswerLength(),
			StartedAt:   s.StartedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
