package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/midras-ai/midras/internal/domain"
)

// maxErrorBody caps how much of a failed response is kept on the error.
const maxErrorBody = 64 << 10

// wireResponse is the success body of the embedding service.
// Pointer fields distinguish "absent" from zero values.
type wireResponse struct {
	CreditsSpent *int              `json:"credits_spent"`
	Embeddings   *[]domain.ColBERT `json:"embeddings"`
	Images       json.RawMessage   `json:"images,omitempty"`
}

// Validate classifies the response status and decodes a success body.
// units is the number of inputs submitted; a body with a different number
// of embeddings is malformed.
func Validate(resp *http.Response, units int) (domain.EmbeddingResponse, error) {
	if err := domain.StatusError(resp.StatusCode, nil); err != nil {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.EmbeddingResponse{}, domain.StatusError(resp.StatusCode, body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.EmbeddingResponse{}, fmt.Errorf("read response: %w", err)
	}
	return DecodeResponse(data, units)
}

// DecodeResponse decodes and checks a success body.
func DecodeResponse(data []byte, units int) (domain.EmbeddingResponse, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.EmbeddingResponse{}, fmt.Errorf("%w: %w", domain.ErrMalformedResponse, err)
	}
	if w.CreditsSpent == nil {
		return domain.EmbeddingResponse{}, fmt.Errorf("missing credits_spent: %w", domain.ErrMalformedResponse)
	}
	if *w.CreditsSpent < 0 {
		return domain.EmbeddingResponse{}, fmt.Errorf("negative credits_spent %d: %w",
			*w.CreditsSpent, domain.ErrMalformedResponse)
	}
	if w.Embeddings == nil {
		return domain.EmbeddingResponse{}, fmt.Errorf("missing embeddings: %w", domain.ErrMalformedResponse)
	}

	embeddings := *w.Embeddings
	if len(embeddings) != units {
		return domain.EmbeddingResponse{}, fmt.Errorf("got %d embeddings for %d inputs: %w",
			len(embeddings), units, domain.ErrMalformedResponse)
	}
	for i, emb := range embeddings {
		if err := emb.Validate(); err != nil {
			return domain.EmbeddingResponse{}, fmt.Errorf("embedding %d: %v: %w", i, err, domain.ErrMalformedResponse)
		}
	}

	return domain.EmbeddingResponse{
		CreditsSpent: *w.CreditsSpent,
		Embeddings:   embeddings,
	}, nil
}

// errorType is the metrics label for a failed exchange.
func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrService):
		return "service"
	case errors.Is(err, domain.ErrRequestRejected):
		return "rejected"
	case errors.Is(err, domain.ErrMalformedResponse):
		return "malformed"
	default:
		return "read"
	}
}
