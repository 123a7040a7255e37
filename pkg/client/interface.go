package client

import (
	"context"

	"github.com/menta2k/labelpool/pkg/types"
)

// VisionClient is a vision model backend able to list the objects it sees.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	DetectObjects(ctx context.Context, model, prompt, imgB64 string) (*types.DetectionResult, error)
}
