package worker

import (
	"context"
	"io"

	"talent/internal/model"
	"talent/pkg/cvparse"
)

// Extractor is the opaque extraction/scoring boundary: one document in,
// structured fields plus a quality score out
type Extractor interface {
	Extract(ctx context.Context, fileName string, document io.Reader) (*model.ParsedCV, error)
}

// APIExtractor adapts the cvparse client to the Extractor boundary
type APIExtractor struct {
	client *cvparse.Client
}

func NewAPIExtractor(client *cvparse.Client) *APIExtractor {
	return &APIExtractor{client: client}
}

func (e *APIExtractor) Extract(ctx context.Context, fileName string, document io.Reader) (*model.ParsedCV, error) {
	extraction, err := e.client.Extract(ctx, fileName, document)
	if err != nil {
		return nil, err
	}

	return &model.ParsedCV{
		Name:     extraction.Name,
		JobTitle: extraction.JobTitle,
		Sector:   extraction.Sector,
		CVScore:  extraction.CVScore,
	}, nil
}
