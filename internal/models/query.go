package models

import (
	"fmt"
	"unicode/utf8"
)

// MaxQuestionLength is the longest question accepted by the chatbot.
const MaxQuestionLength = 500

// Query is the payload posted to the streaming query endpoint.
type Query struct {
	Question    string `json:"question"`
	MaxResults  int    `json:"maxResults"`
	UseModelVps bool   `json:"useModelVps"`
}

// Validate checks the question and applies defaultMaxResults when MaxResults is unset.
func (q *Query) Validate(defaultMaxResults int) error {
	if q.Question == "" {
		return fmt.Errorf("question cannot be empty")
	}
	if utf8.RuneCountInString(q.Question) > MaxQuestionLength {
		return fmt.Errorf("question is too long (max %d characters)", MaxQuestionLength)
	}
	if q.MaxResults <= 0 {
		q.MaxResults = defaultMaxResults
	}
	return nil
}

// RelevantChunk is a source snippet used to ground an answer.
type RelevantChunk struct {
	Content    string  `json:"content"`
	FileName   string  `json:"fileName"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
	ChunkIndex int     `json:"chunkIndex"`
}

// QueryResponse is the aggregated result of one streamed query.
type QueryResponse struct {
	SessionID        string          `json:"sessionId,omitempty"`
	Answer           string          `json:"answer"`
	RelevantChunks   []RelevantChunk `json:"relevantChunks"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
}

// Similarity converts a vector distance into a similarity score in (0, 1].
func Similarity(distance float64) float64 {
	return 1 / (1 + distance)
}
