package stream

import (
	"encoding/json"
	"fmt"

	"github.com/hyperjump/nestelia/internal/models"
)

// Event is a decoded stream event. The concrete types are ChunksEvent, StartEvent,
// TokenEvent, DoneEvent, ErrorEvent and UnknownEvent.
type Event interface {
	eventName() string
}

// ChunksEvent carries the source chunks retrieved for the question.
type ChunksEvent struct {
	Chunks []models.RelevantChunk
	Count  int
}

// StartEvent signals the server began generating.
type StartEvent struct{}

// TokenEvent carries one piece of the answer.
type TokenEvent struct {
	Content string
}

// DoneEvent ends a successful stream.
type DoneEvent struct {
	ProcessingTimeMs int64
	ChunkCount       int
	Timestamp        string
}

// ErrorEvent ends a failed stream.
type ErrorEvent struct {
	Message string
	Details string
}

// UnknownEvent is any event name the client does not handle.
type UnknownEvent struct {
	Name string
	Data string
}

func (ChunksEvent) eventName() string    { return "chunks" }
func (StartEvent) eventName() string     { return "start" }
func (TokenEvent) eventName() string     { return "token" }
func (DoneEvent) eventName() string      { return "done" }
func (ErrorEvent) eventName() string     { return "error" }
func (e UnknownEvent) eventName() string { return e.Name }

type chunksPayload struct {
	Chunks []struct {
		Content  string  `json:"content"`
		FileName string  `json:"fileName"`
		Distance float64 `json:"distance"`
	} `json:"chunks"`
	Count int `json:"count"`
}

type tokenPayload struct {
	Content string `json:"content"`
}

type donePayload struct {
	ProcessingTimeMs float64         `json:"processingTimeMs"`
	ChunkCount       int             `json:"chunkCount"`
	Timestamp        json.RawMessage `json:"timestamp"`
}

type errorPayload struct {
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

// Decode turns a raw event into its typed form. A payload that is not valid JSON for its
// event is reported as an error and the event should be skipped.
func Decode(raw *RawEvent) (Event, error) {
	switch raw.Event {
	case "chunks":
		var p chunksPayload
		if err := json.Unmarshal([]byte(raw.Data), &p); err != nil {
			return nil, fmt.Errorf("malformed chunks payload: %w", err)
		}
		chunks := make([]models.RelevantChunk, len(p.Chunks))
		for i, c := range p.Chunks {
			chunks[i] = models.RelevantChunk{
				Content:    c.Content,
				FileName:   c.FileName,
				Distance:   c.Distance,
				Similarity: models.Similarity(c.Distance),
				ChunkIndex: i,
			}
		}
		return ChunksEvent{Chunks: chunks, Count: p.Count}, nil
	case "start":
		return StartEvent{}, nil
	case "token":
		var p tokenPayload
		if err := json.Unmarshal([]byte(raw.Data), &p); err != nil {
			return nil, fmt.Errorf("malformed token payload: %w", err)
		}
		return TokenEvent{Content: p.Content}, nil
	case "done":
		var p donePayload
		if err := json.Unmarshal([]byte(raw.Data), &p); err != nil {
			return nil, fmt.Errorf("malformed done payload: %w", err)
		}
		return DoneEvent{
			ProcessingTimeMs: int64(p.ProcessingTimeMs),
			ChunkCount:       p.ChunkCount,
			Timestamp:        rawString(p.Timestamp),
		}, nil
	case "error":
		var p errorPayload
		if err := json.Unmarshal([]byte(raw.Data), &p); err != nil {
			return nil, fmt.Errorf("malformed error payload: %w", err)
		}
		return ErrorEvent{Message: p.Message, Details: rawString(p.Details)}, nil
	default:
		return UnknownEvent{Name: raw.Event, Data: raw.Data}, nil
	}
}

// rawString returns a JSON string's value, or the raw JSON text for other values.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
