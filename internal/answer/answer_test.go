package answer_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/webq/internal/answer"
	"github.com/slok/webq/internal/model"
)

func groqStub(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func chatBody(content string) string {
	return `{"choices":[{"message":{"role":"assistant","content":` + jsonStr(content) + `}}]}`
}

func jsonStr(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestNewGroqGenerator(t *testing.T) {
	_, err := answer.NewGroqGenerator(answer.GroqGeneratorConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is required")

	g, err := answer.NewGroqGenerator(answer.GroqGeneratorConfig{APIKey: "test-key"})
	require.NoError(t, err)
	assert.NotNil(t, g)
}

func TestGroqGeneratorAnswer(t *testing.T) {
	tests := map[string]struct {
		handler   http.HandlerFunc
		content   string
		question  string
		expAnswer string
		expErr    error
	}{
		"A successful completion returns the model answer": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/chat/completions", r.URL.Path)
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

				var req map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "llama-3.1-8b-instant", req["model"])
				assert.Equal(t, 0.7, req["temperature"])
				assert.Equal(t, float64(1024), req["max_tokens"])

				msgs := req["messages"].([]any)
				require.Len(t, msgs, 2)
				user := msgs[1].(map[string]any)["content"].(string)
				assert.Contains(t, user, `"What is this page about?"`)
				assert.Contains(t, user, "some page text")

				w.Write([]byte(chatBody("It is about examples.")))
			},
			content:   "some page text",
			question:  "What is this page about?",
			expAnswer: "It is about examples.",
		},

		"Long content is truncated with a marker before submission": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				var req map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				user := req["messages"].([]any)[1].(map[string]any)["content"].(string)
				assert.Contains(t, user, answer.TruncationMarker)
				assert.NotContains(t, user, strings.Repeat("a", answer.MaxContentLength+1))

				w.Write([]byte(chatBody("partial answer")))
			},
			content:   strings.Repeat("a", answer.MaxContentLength+5000),
			question:  "q",
			expAnswer: "partial answer",
		},

		"Empty choices fall back to the sentinel answer": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"choices":[]}`))
			},
			content:   "text",
			question:  "q",
			expAnswer: answer.NoAnswerFallback,
		},

		"Empty message content falls back to the sentinel answer": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(chatBody("")))
			},
			content:   "text",
			question:  "q",
			expAnswer: answer.NoAnswerFallback,
		},

		"A service error maps to a generation error": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "rate limited", http.StatusTooManyRequests)
			},
			content:  "text",
			question: "q",
			expErr:   model.ErrGeneration,
		},

		"Invalid JSON maps to a generation error": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("{not json"))
			},
			content:  "text",
			question: "q",
			expErr:   model.ErrGeneration,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			server := groqStub(t, tt.handler)

			g, err := answer.NewGroqGenerator(answer.GroqGeneratorConfig{
				APIKey:  "test-key",
				BaseURL: server.URL,
			})
			require.NoError(t, err)

			got, err := g.Answer(context.Background(), tt.content, tt.question)

			if tt.expErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.expErr))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expAnswer, got)
			}
		})
	}
}

func TestGroqGeneratorTimeout(t *testing.T) {
	server := groqStub(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	g, err := answer.NewGroqGenerator(answer.GroqGeneratorConfig{
		APIKey:         "test-key",
		BaseURL:        server.URL,
		RequestTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = g.Answer(context.Background(), "text", "q")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrGeneration))
}

func TestTruncate(t *testing.T) {
	short := "short content"
	assert.Equal(t, short, answer.Truncate(short))

	long := strings.Repeat("a", answer.MaxContentLength+1)
	got := answer.Truncate(long)
	assert.Len(t, got, answer.MaxContentLength+len(answer.TruncationMarker))
	assert.True(t, strings.HasSuffix(got, answer.TruncationMarker))
}
