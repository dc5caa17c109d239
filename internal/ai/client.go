package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultNPredict = 128

// CompletionRequest carries the sampling parameters for one generation.
type CompletionRequest struct {
	Prompt      string
	Temperature float64
	TopK        int
	TopP        float64
	NPredict    int
	Stop        []string
}

// Client talks to the inference engine's completion, embedding and
// tokenization endpoints. It is a long-lived, connection-pooled
// singleton; never construct one per request.
type Client struct {
	baseURL string
	logger  zerolog.Logger

	// streamClient has a connect timeout but no read deadline:
	// long-running generation is expected and must not be cut off.
	streamClient *http.Client
	httpClient   *http.Client
}

func NewClient(baseURL string, connectTimeout time.Duration, logger zerolog.Logger) *Client {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		streamClient: &http.Client{
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				MaxIdleConnsPerHost: 8,
			},
		},
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// CompleteStream issues a streaming completion and hands every raw
// response fragment to onChunk exactly as received, in arrival order,
// with no buffering beyond the transport's. Fragment framing is the
// caller's concern; the client never parses the payloads.
//
// Upstream failures (connect error, non-2xx, mid-stream read error) are
// logged and end the stream early instead of being re-raised, so a
// partial response is the observable failure mode. An error returned by
// onChunk (typically the downstream client going away) is propagated and
// closes the upstream connection.
func (c *Client) CompleteStream(ctx context.Context, req CompletionRequest, onChunk func(chunk string) error) error {
	nPredict := req.NPredict
	if nPredict == 0 {
		nPredict = defaultNPredict
	}
	body := map[string]interface{}{
		"prompt":       req.Prompt,
		"temperature":  req.Temperature,
		"top_k":        req.TopK,
		"top_p":        req.TopP,
		"n_keep":       0,
		"n_predict":    nPredict,
		"cache_prompt": true,
		"slot_id":      -1,
		"stop":         req.Stop,
		"stream":       true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal completion request failed: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build completion request failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		c.logger.Error().Err(err).Msg("completion request failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error().Int("status", resp.StatusCode).
			Str("body", string(raw)).Msg("completion response status not ok")
		return nil
	}

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := onChunk(string(buf[:n])); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			c.logger.Error().Err(readErr).Msg("read completion stream failed")
			return nil
		}
	}
}

// Embed returns the embedding vector for the given text. The dimension
// is fixed by the deployed model; callers reconcile it with the vector
// index's configured dimension.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embedding", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embedding request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding response status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding json failed: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding in response")
	}
	return parsed.Embedding, nil
}

// Tokenize returns the engine's token ids for the given text.
func (c *Client) Tokenize(ctx context.Context, text string) ([]int, error) {
	payload, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return nil, fmt.Errorf("marshal tokenize request failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tokenize", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build tokenize request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokenize request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tokenize response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tokenize response status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Tokens []int `json:"tokens"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse tokenize json failed: %w", err)
	}
	return parsed.Tokens, nil
}
