package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteStreamForwardsChunksInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/completion", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])
		assert.Equal(t, float64(-1), body["slot_id"])
		assert.Equal(t, float64(0), body["n_keep"])

		flusher := w.(http.Flusher)
		for _, chunk := range []string{"Hel", "lo ", "world"} {
			_, _ = w.Write([]byte(chunk))
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, zerolog.Nop())

	var got string
	err := client.CompleteStream(context.Background(), CompletionRequest{
		Prompt: "### Human: hi\n### Assistant:",
		Stop:   []string{"\n### Human:"},
	}, func(chunk string) error {
		got += chunk
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", got)
}

func TestCompleteStreamSwallowsUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, zerolog.Nop())

	calls := 0
	err := client.CompleteStream(context.Background(), CompletionRequest{Prompt: "p"}, func(chunk string) error {
		calls++
		return nil
	})
	require.NoError(t, err, "upstream failure ends the stream, it does not error")
	assert.Equal(t, 0, calls)
}

func TestCompleteStreamPropagatesCallbackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("first"))
		flusher.Flush()
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("second"))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, zerolog.Nop())

	wantErr := errors.New("client went away")
	err := client.CompleteStream(context.Background(), CompletionRequest{Prompt: "p"}, func(chunk string) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestEmbedParsesVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embedding", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "some text", body["content"])

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": []float32{0.1, 0.2, 0.3},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, zerolog.Nop())

	vec, err := client.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedRejectsEmptyVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{}})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, zerolog.Nop())

	_, err := client.Embed(context.Background(), "text")
	require.Error(t, err)
}

func TestTokenizeParsesTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tokenize", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"tokens": []int{1, 15043, 3186}})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, zerolog.Nop())

	tokens, err := client.Tokenize(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 15043, 3186}, tokens)
}
