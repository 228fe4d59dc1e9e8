package stream

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/nestelia/internal/config"
	"github.com/hyperjump/nestelia/internal/models"
)

type sseWriter struct {
	w http.ResponseWriter
}

func openSSE(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w}
}

func (s *sseWriter) send(event, data string) {
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	s.w.(http.Flusher).Flush()
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.StreamConfig{BaseURL: srv.URL + "/api", Path: "/bot/query-stream", MaxResults: 5})
}

func TestQueryStream_Success(t *testing.T) {
	type captured struct {
		path, accept string
		body         models.Query
	}
	got := make(chan captured, 1)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body models.Query
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- captured{path: r.URL.Path, accept: r.Header.Get("Accept"), body: body}

		s := openSSE(w)
		s.send("chunks", `{"chunks":[{"content":"c","fileName":"guia.pdf","distance":1}],"count":1}`)
		s.send("start", `{}`)
		s.send("token", `{"content":"Hel"}`)
		s.send("token", `{"content":"lo"}`)
		s.send("done", `{"processingTimeMs":42,"chunkCount":1}`)
	})

	var tokens []string
	res, err := c.QueryStream(context.Background(), models.Query{Question: "¿Horario del museo?"}, func(tok string) {
		tokens = append(tokens, tok)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Answer)
	assert.Equal(t, int64(42), res.ProcessingTimeMs)
	require.Len(t, res.RelevantChunks, 1)
	assert.Equal(t, 0.5, res.RelevantChunks[0].Similarity)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, []string{"Hel", "lo"}, tokens)

	req := <-got
	assert.Equal(t, "/api/bot/query-stream", req.path)
	assert.Equal(t, "text/event-stream", req.accept)
	assert.Equal(t, "¿Horario del museo?", req.body.Question)
	assert.Equal(t, 5, req.body.MaxResults)
	assert.Empty(t, c.InFlight())
}

func TestQueryStream_GzipStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		for _, line := range []string{
			"event: start\ndata: {}\n\n",
			"event: token\ndata: {\"content\":\"Hel\"}\n\n",
			"event: token\ndata: {\"content\":\"lo\"}\n\n",
			"event: done\ndata: {\"processingTimeMs\":42}\n\n",
		} {
			_, _ = zw.Write([]byte(line))
			_ = zw.Flush()
			w.(http.Flusher).Flush()
		}
		_ = zw.Close()
	})

	res, err := c.Query(context.Background(), models.Query{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Answer)
	assert.Equal(t, int64(42), res.ProcessingTimeMs)
}

func TestQueryStream_GzipErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusBadGateway)
		zw := gzip.NewWriter(w)
		_, _ = zw.Write([]byte("upstream down"))
		_ = zw.Close()
	})

	_, err := c.Query(context.Background(), models.Query{Question: "q"})
	assert.EqualError(t, err, "HTTP 502: upstream down")
}

func TestQueryStream_OpenFailures(t *testing.T) {
	t.Run("non-success status", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		})
		_, err := c.Query(context.Background(), models.Query{Question: "q"})
		var herr *HTTPError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, http.StatusServiceUnavailable, herr.Status)
		assert.Equal(t, "HTTP 503: overloaded\n", err.Error())
	})

	t.Run("not an event stream", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{}`))
		})
		_, err := c.Query(context.Background(), models.Query{Question: "q"})
		assert.ErrorIs(t, err, ErrNotEventStream)
	})

	t.Run("invalid question never sent", func(t *testing.T) {
		called := false
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })
		_, err := c.Query(context.Background(), models.Query{Question: ""})
		assert.Error(t, err)
		_, err = c.Query(context.Background(), models.Query{Question: strings.Repeat("x", models.MaxQuestionLength+1)})
		assert.Error(t, err)
		assert.False(t, called)
	})
}

func TestQueryStream_EarlyCloseResolvesPartial(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		s := openSSE(w)
		s.send("token", `{"content":"partial"}`)
	})
	res, err := c.Query(context.Background(), models.Query{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "partial", res.Answer)
	assert.Equal(t, int64(0), res.ProcessingTimeMs)
}

func TestQueryStream_ErrorEventRejects(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		s := openSSE(w)
		s.send("token", `{"content":"x"}`)
		s.send("error", `{"message":"boom"}`)
		s.send("token", `{"content":"ignored"}`)
	})
	_, err := c.Query(context.Background(), models.Query{Question: "q"})
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
}

func TestQueryStream_DoneThenTransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		s := openSSE(w)
		s.send("token", `{"content":"fine"}`)
		s.send("done", `{"processingTimeMs":7}`)
		panic(http.ErrAbortHandler)
	})
	res, err := c.Query(context.Background(), models.Query{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "fine", res.Answer)
	assert.Equal(t, int64(7), res.ProcessingTimeMs)
}

func TestQueryStream_MalformedAndUnknownEventsSkipped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		s := openSSE(w)
		s.send("token", `{not json`)
		s.send("heartbeat", `{}`)
		fmt.Fprint(w, ": comment\n\n")
		s.send("token", `{"content":"ok"}`)
		s.send("done", `{"processingTimeMs":1}`)
	})
	res, err := c.Query(context.Background(), models.Query{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Answer)
}

func TestQueryStream_CancellationAndInFlight(t *testing.T) {
	started := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		s := openSSE(w)
		s.send("token", `{"content":"first"}`)
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Query(ctx, models.Query{Question: "long question"})
		errc <- err
	}()

	<-started
	require.Eventually(t, func() bool {
		in := c.InFlight()
		return len(in) == 1 && in[0].AnswerBytes == len("first")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "long question", c.InFlight()[0].Question)
	assert.Equal(t, "streaming", c.InFlight()[0].State)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("query did not return after cancel")
	}
	assert.Empty(t, c.InFlight())
}

func TestQueryStream_OverlappingCallsAreIndependent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var q models.Query
		_ = json.NewDecoder(r.Body).Decode(&q)
		s := openSSE(w)
		s.send("token", fmt.Sprintf(`{"content":%q}`, "answer to "+q.Question))
		s.send("done", `{"processingTimeMs":1}`)
	})

	type out struct {
		res *models.QueryResponse
		err error
	}
	results := make(chan out, 2)
	for _, q := range []string{"a", "b"} {
		go func(q string) {
			res, err := c.Query(context.Background(), models.Query{Question: q})
			results <- out{res, err}
		}(q)
	}

	answers := map[string]string{}
	for i := 0; i < 2; i++ {
		o := <-results
		require.NoError(t, o.err)
		answers[o.res.Answer] = o.res.SessionID
	}
	assert.Contains(t, answers, "answer to a")
	assert.Contains(t, answers, "answer to b")
	assert.NotEqual(t, answers["answer to a"], answers["answer to b"])
}
