package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/beamforge/beamforge/internal/capability"
)

// Image is a deterministic ImageCapability. It tracks which prompts have
// already been "generated" so a repeat prompt simulates a cache hit (lower
// latency, reported as "cached" in the result's Metadata).
type Image struct {
	mu      sync.Mutex
	seen    map[string]bool
	counter int
	limiter *rate.Limiter // throttles simulated first-call latency
	Batch   bool
}

// NewImage builds an Image provider. burst bounds how many uncached
// generations can proceed without waiting on the simulated rate limit.
func NewImage(burst int) *Image {
	if burst < 1 {
		burst = 1
	}
	return &Image{
		seen:    make(map[string]bool),
		limiter: rate.NewLimiter(rate.Every(10*time.Millisecond), burst),
	}
}

func (img *Image) GenerateImage(ctx context.Context, prompt string, opts capability.ImageOptions) (capability.ImageResult, error) {
	img.mu.Lock()
	cached := img.seen[prompt]
	if !cached {
		img.seen[prompt] = true
	}
	img.counter++
	locator := fmt.Sprintf("mock://image/i%dc%d/%d", opts.Iteration, opts.CandidateID, img.counter)
	img.mu.Unlock()

	if !cached {
		if err := img.limiter.Wait(ctx); err != nil {
			return capability.ImageResult{}, err
		}
	}

	return capability.ImageResult{
		Locator:  locator,
		Metadata: map[string]any{"cached": cached, "face_fix": opts.FaceFix},
	}, nil
}

func (img *Image) Status(ctx context.Context) (capability.Status, error) {
	return capability.Status{ModelLoaded: true, Version: "mock-image-1"}, nil
}

// GenerateImages implements capability.BatchImageCapability when img.Batch is
// true, generating every prompt in the batch sequentially under one call.
func (img *Image) GenerateImages(ctx context.Context, prompts []string, opts []capability.ImageOptions) ([]capability.ImageResult, error) {
	if !img.Batch {
		return nil, fmt.Errorf("mock image: batch generation not enabled")
	}
	if len(prompts) != len(opts) {
		return nil, fmt.Errorf("mock image: prompts/opts length mismatch: %d != %d", len(prompts), len(opts))
	}
	results := make([]capability.ImageResult, len(prompts))
	for i, p := range prompts {
		r, err := img.GenerateImage(ctx, p, opts[i])
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

var (
	_ capability.ImageCapability      = (*Image)(nil)
	_ capability.BatchImageCapability = (*Image)(nil)
)
