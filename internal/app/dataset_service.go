package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/SkywardAI/kirin/internal/model"
	"github.com/SkywardAI/kirin/internal/repository"
	"github.com/SkywardAI/kirin/internal/vector"
)

const (
	defaultChunkSize    = 512
	defaultChunkOverlap = 64
)

var ErrDatasetEmpty = errors.New("dataset has no ingestible content")

// VectorUpserter is the write side of the vector index.
type VectorUpserter interface {
	Upsert(ctx context.Context, collection string, rows []vector.Row, recreate bool) error
	Dimension() int
}

// DatasetService registers datasets and ingests their documents into the
// vector store: chunk, embed, reconcile dimensions, upsert.
type DatasetService struct {
	datasetRepo *repository.DatasetRepository
	llm         Completer
	index       VectorUpserter
	logger      zerolog.Logger
}

func NewDatasetService(datasetRepo *repository.DatasetRepository, llm Completer, index VectorUpserter, logger zerolog.Logger) *DatasetService {
	return &DatasetService{
		datasetRepo: datasetRepo,
		llm:         llm,
		index:       index,
		logger:      logger,
	}
}

type IngestInput struct {
	AccountID   *uint
	DatasetName string
	Content     string
	Recreate    bool
}

type IngestResult struct {
	Dataset    model.Dataset `json:"dataset"`
	ChunkCount int           `json:"chunk_count"`
	Skipped    int           `json:"skipped"`
}

// Ingest chunks the content, embeds each chunk, fits every vector to the
// index dimension, and upserts the surviving rows. Chunks whose
// embedding exceeds the configured dimension are skipped, not failed.
func (s *DatasetService) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	name := strings.TrimSpace(input.DatasetName)
	content := strings.TrimSpace(input.Content)
	if name == "" || content == "" {
		return nil, ErrInvalidInput
	}

	chunks := chunkText(content, defaultChunkSize, defaultChunkOverlap)
	if len(chunks) == 0 {
		return nil, ErrDatasetEmpty
	}

	dataset, err := s.datasetRepo.GetByName(name)
	if err != nil {
		return nil, err
	}
	if dataset == nil {
		dataset = &model.Dataset{AccountID: input.AccountID, Name: name}
		if err := s.datasetRepo.Create(dataset); err != nil {
			return nil, err
		}
	}

	rows := make([]vector.Row, 0, len(chunks))
	skipped := 0
	for i, chunk := range chunks {
		embedding, err := s.llm.Embed(ctx, chunk)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d failed: %w", i, err)
		}
		fitted, ok := vector.FitDimension(embedding, s.index.Dimension())
		if !ok {
			s.logger.Warn().Str("dataset", name).Int("chunk", i).
				Int("got", len(embedding)).Int("want", s.index.Dimension()).
				Msg("embedding exceeds index dimension, skipping chunk")
			skipped++
			continue
		}
		rows = append(rows, vector.Row{
			ID:       fmt.Sprintf("%s-%d", vector.SanitizeCollection(name), i),
			Vector:   fitted,
			Document: chunk,
		})
	}
	if len(rows) == 0 {
		return nil, ErrDatasetEmpty
	}

	if err := s.index.Upsert(ctx, name, rows, input.Recreate); err != nil {
		return nil, fmt.Errorf("upsert dataset rows failed: %w", err)
	}

	return &IngestResult{
		Dataset:    *dataset,
		ChunkCount: len(rows),
		Skipped:    skipped,
	}, nil
}

func (s *DatasetService) ListDatasets(accountID uint) ([]model.Dataset, error) {
	if accountID == 0 {
		return nil, ErrInvalidInput
	}
	return s.datasetRepo.ListByAccountID(accountID)
}

// chunkText splits text into overlapping chunks by rune count.
func chunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap >= size {
		overlap = size / 2
	}
	var chunks []string
	runes := []rune(text)
	for i := 0; i < len(runes); {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		i += size - overlap
		if i >= len(runes) {
			break
		}
	}
	return chunks
}
