package insight

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allenheltondev/dirt-man/pkg/retry"
)

// fastPolicy keeps the LLM schedule shape but with millisecond delays.
func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		Multiplier:      2,
	}
}

func completionBody(t *testing.T, content string) []byte {
	t.Helper()

	body, err := json.Marshal(chatResponse{
		Choices: []struct {
			Message chatMessage `json:"message"`
		}{
			{Message: chatMessage{Role: "assistant", Content: content}},
		},
	})
	require.NoError(t, err)

	return body
}

func TestHTTPClientComplete(t *testing.T) {
	t.Parallel()

	var gotReq chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		_, _ = w.Write(completionBody(t, `{"summary":"ok"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-model", "test-key")

	content, err := c.Complete(t.Context(), "analyze this")
	require.NoError(t, err)

	assert.Equal(t, `{"summary":"ok"}`, content)
	assert.Equal(t, "test-model", gotReq.Model)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "user", gotReq.Messages[0].Role)
	assert.Equal(t, "analyze this", gotReq.Messages[0].Content)
	assert.Equal(t, "test-model", c.Model())
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		_, _ = w.Write(completionBody(t, "recovered"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-model", "")
	c.policy = fastPolicy()

	content, err := c.Complete(t.Context(), "prompt")
	require.NoError(t, err)

	assert.Equal(t, "recovered", content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClientClientErrorIsPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-model", "")
	c.policy = fastPolicy()

	_, err := c.Complete(t.Context(), "prompt")
	require.Error(t, err)

	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClientEmptyChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-model", "")
	c.policy = fastPolicy()

	_, err := c.Complete(t.Context(), "prompt")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestHTTPClientExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "test-model", "")
	c.policy = fastPolicy()

	_, err := c.Complete(t.Context(), "prompt")
	require.Error(t, err)

	assert.Equal(t, int32(3), calls.Load())
}
