package vector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// DefaultDim is the embedding dimension of the deployed model.
const DefaultDim = 384

// Row is one id/vector/document triple to upsert into a collection.
type Row struct {
	ID       string    `json:"id"`
	Vector   []float32 `json:"vector"`
	Document string    `json:"document"`
}

// Index is a REST adapter over the vector store's per-collection
// similarity search. The store runs on a trusted network; no
// authentication is assumed.
type Index struct {
	client    *resty.Client
	dimension int
	logger    zerolog.Logger
}

func NewIndex(baseURL string, dimension int, logger zerolog.Logger) *Index {
	if dimension <= 0 {
		dimension = DefaultDim
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second)
	return &Index{
		client:    client,
		dimension: dimension,
		logger:    logger,
	}
}

// Dimension reports the configured vector length.
func (i *Index) Dimension() int {
	return i.dimension
}

// Search returns up to k nearest documents by cosine similarity, most
// similar first. It never bubbles an error to the caller: a missing
// collection or a failed backing call yields an empty result, and "no
// context" is the safe default.
func (i *Index) Search(ctx context.Context, collection string, queryVector []float32, k int) []string {
	if k <= 0 {
		k = 1
	}
	collection = SanitizeCollection(collection)
	if collection == "" || len(queryVector) == 0 {
		return nil
	}

	var result struct {
		Documents []string `json:"documents"`
	}
	resp, err := i.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"vector": queryVector, "k": k}).
		SetResult(&result).
		Post("/collections/" + collection + "/search")
	if err != nil {
		i.logger.Error().Err(err).Str("collection", collection).Msg("vector search request failed")
		return nil
	}
	if resp.IsError() {
		i.logger.Warn().Int("status", resp.StatusCode()).
			Str("collection", collection).Msg("vector search returned error status")
		return nil
	}
	return result.Documents
}

// Upsert batch-inserts rows into the collection. With recreate set, the
// collection is dropped and created empty first; that is explicitly
// destructive.
func (i *Index) Upsert(ctx context.Context, collection string, rows []Row, recreate bool) error {
	collection = SanitizeCollection(collection)
	if collection == "" {
		return fmt.Errorf("empty collection name after sanitization")
	}

	if recreate {
		if _, err := i.client.R().SetContext(ctx).Delete("/collections/" + collection); err != nil {
			return fmt.Errorf("drop collection failed: %w", err)
		}
	}
	resp, err := i.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"dimension": i.dimension, "metric": "cosine"}).
		Put("/collections/" + collection)
	if err != nil {
		return fmt.Errorf("create collection failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("create collection status %d: %s", resp.StatusCode(), resp.String())
	}

	if len(rows) == 0 {
		return nil
	}
	resp, err = i.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"rows": rows}).
		Post("/collections/" + collection + "/rows")
	if err != nil {
		return fmt.Errorf("upsert rows failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("upsert rows status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// SanitizeCollection derives a collection identifier from a dataset name
// by stripping every non-alphanumeric character. Insertion and lookup
// must both go through this so they always agree.
func SanitizeCollection(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FitDimension reconciles an embedding with the configured dimension:
// a shorter vector is zero-padded to exactly dim, a longer one is
// rejected so the caller skips the item instead of failing a batch.
func FitDimension(vec []float32, dim int) ([]float32, bool) {
	if dim <= 0 || len(vec) > dim {
		return nil, false
	}
	if len(vec) == dim {
		return vec, true
	}
	padded := make([]float32, dim)
	copy(padded, vec)
	return padded, true
}
