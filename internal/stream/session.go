package stream

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/nestelia/internal/models"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	default:
		return "idle"
	}
}

// ServerError is the message of an error event sent by the server.
type ServerError struct {
	Message string
	Details string
}

func (e *ServerError) Error() string {
	return e.Message
}

const defaultServerErrorMessage = "server error"

// Session accumulates one streamed answer. It completes exactly once: the first of a
// done event, an error event, the end of the stream or a transport error decides the
// outcome and later ones are ignored.
type Session struct {
	ID        string
	Question  string
	StartedAt time.Time

	onToken func(string)
	logger  *zap.Logger

	mu               sync.Mutex
	state            State
	answer           strings.Builder
	chunks           []models.RelevantChunk
	processingTimeMs int64
	result           *models.QueryResponse
	err              error
	done             chan struct{}
}

// NewSession returns an idle session. onToken may be nil.
func NewSession(id, question string, onToken func(string), logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		ID:        id,
		Question:  question,
		StartedAt: time.Now(),
		onToken:   onToken,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start moves an idle session to streaming.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		s.state = StateStreaming
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AnswerLength returns the number of bytes accumulated so far.
func (s *Session) AnswerLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answer.Len()
}

// Apply folds ev into the session and reports whether the session is now complete.
// Events arriving after completion are ignored.
func (s *Session) Apply(ev Event) bool {
	s.mu.Lock()
	if s.state == StateCompleted {
		s.mu.Unlock()
		return true
	}
	s.state = StateStreaming

	switch e := ev.(type) {
	case ChunksEvent:
		s.chunks = e.Chunks
		s.mu.Unlock()
		s.logger.Debug("Chunks received", zap.String("session", s.ID), zap.Int("count", e.Count))
	case StartEvent:
		s.mu.Unlock()
		s.logger.Debug("Server started processing", zap.String("session", s.ID))
	case TokenEvent:
		s.answer.WriteString(e.Content)
		s.mu.Unlock()
		s.emit(e.Content)
	case DoneEvent:
		s.processingTimeMs = e.ProcessingTimeMs
		s.completeLocked(nil)
		s.mu.Unlock()
		s.logger.Debug("Stream completed",
			zap.String("session", s.ID),
			zap.Int64("processing_time_ms", e.ProcessingTimeMs),
			zap.Int("chunk_count", e.ChunkCount))
		return true
	case ErrorEvent:
		msg := e.Message
		if msg == "" {
			msg = defaultServerErrorMessage
		}
		s.completeLocked(&ServerError{Message: msg, Details: e.Details})
		s.mu.Unlock()
		s.logger.Warn("Server reported an error", zap.String("session", s.ID), zap.String("message", msg))
		return true
	case UnknownEvent:
		s.mu.Unlock()
		s.logger.Warn("Ignoring unknown event", zap.String("session", s.ID), zap.String("event", e.Name))
	default:
		s.mu.Unlock()
	}
	return false
}

// emit runs the token callback; a panicking callback never breaks the stream.
func (s *Session) emit(token string) {
	if s.onToken == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Token callback panicked", zap.String("session", s.ID), zap.Any("panic", r))
		}
	}()
	s.onToken(token)
}

// Close ends the session because the transport finished. A nil err resolves with
// whatever was accumulated; a non-nil err rejects. Both are no-ops once complete.
func (s *Session) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCompleted {
		return
	}
	if err == nil {
		s.logger.Warn("Stream closed before completion",
			zap.String("session", s.ID),
			zap.Int("answer_bytes", s.answer.Len()))
	}
	s.completeLocked(err)
}

func (s *Session) completeLocked(err error) {
	s.state = StateCompleted
	if err != nil {
		s.err = err
	} else {
		chunks := s.chunks
		if chunks == nil {
			chunks = []models.RelevantChunk{}
		}
		s.result = &models.QueryResponse{
			SessionID:        s.ID,
			Answer:           s.answer.String(),
			RelevantChunks:   chunks,
			ProcessingTimeMs: s.processingTimeMs,
		}
	}
	close(s.done)
}

// Done is closed when the session completes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (s *Session) Result() (*models.QueryResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}
