// Package capability declares the external functional dependencies:
// language, image, and vision providers, abstracted behind interfaces so the
// orchestrator can probe for optional extensions without depending on any
// concrete provider.
package capability

import "context"

// Status is returned by a capability's health probe.
type Status struct {
	ModelLoaded bool
	Cached      bool
	Version     string
}

// RefineOptions parameterizes a single-facet prompt refinement.
type RefineOptions struct {
	Dimension   string // "what" or "how"
	Temperature float64
	MaxTokens   int
}

// RefineResult is the outcome of refining a WHAT or HOW facet.
type RefineResult struct {
	RefinedText string
	Metadata    map[string]any
}

// CombineOptions parameterizes a WHAT+HOW combine operation.
type CombineOptions struct {
	Descriptiveness int // 1, 2, or 3
}

// CombineResult is the outcome of merging a WHAT and HOW prompt.
type CombineResult struct {
	CombinedText string
	Metadata     map[string]any
}

// CritiqueResult is the outcome of critiquing a generated image against its
// prompt, used to seed refinement iterations.
type CritiqueResult struct {
	Critique string
	Metadata map[string]any
}

// NegativePromptResult is the outcome of deriving a negative prompt from a
// positive one.
type NegativePromptResult struct {
	NegativeText string
	Metadata     map[string]any
}

// LanguageCapability is the required core of the language provider. Optional
// extensions (critique, negative-prompt generation) are surfaced through
// separate interfaces an implementation may additionally satisfy; the
// orchestrator probes for them with a type assertion.
type LanguageCapability interface {
	RefinePrompt(ctx context.Context, text string, opts RefineOptions) (RefineResult, error)
	CombinePrompts(ctx context.Context, what, how string, opts CombineOptions) (CombineResult, error)
	Status(ctx context.Context) (Status, error)
}

// CritiqueCapability is an optional LanguageCapability extension.
type CritiqueCapability interface {
	GenerateCritique(ctx context.Context, imageLocator, prompt string) (CritiqueResult, error)
}

// NegativePromptCapability is an optional LanguageCapability extension.
type NegativePromptCapability interface {
	GenerateNegativePrompt(ctx context.Context, positive string) (NegativePromptResult, error)
}

// SupportsCritique probes lang for CritiqueCapability.
func SupportsCritique(lang LanguageCapability) (CritiqueCapability, bool) {
	c, ok := lang.(CritiqueCapability)
	return c, ok
}

// SupportsNegativePrompt probes lang for NegativePromptCapability.
func SupportsNegativePrompt(lang LanguageCapability) (NegativePromptCapability, bool) {
	n, ok := lang.(NegativePromptCapability)
	return n, ok
}

// BatchRefineCapability is an optional LanguageCapability extension for
// providers that can refine a batch of same-kind prompts in a single call.
// The orchestrator abstracts over batch and per-operation providers alike.
type BatchRefineCapability interface {
	RefinePrompts(ctx context.Context, texts []string, opts RefineOptions) ([]RefineResult, error)
}

// SupportsBatchRefine probes lang for BatchRefineCapability.
func SupportsBatchRefine(lang LanguageCapability) (BatchRefineCapability, bool) {
	b, ok := lang.(BatchRefineCapability)
	return b, ok
}

// ImageOptions parameterizes a single image generation request.
type ImageOptions struct {
	Iteration   int
	CandidateID int
	Modal       map[string]any
	FaceFix     bool
}

// ImageResult is an addressable reference to a generated image.
type ImageResult struct {
	Locator   string // URL or opaque blob id
	LocalPath string // optional local storage path
	Metadata  map[string]any
}

// ImageCapability is the required core of the image provider.
type ImageCapability interface {
	GenerateImage(ctx context.Context, prompt string, opts ImageOptions) (ImageResult, error)
	Status(ctx context.Context) (Status, error)
}

// BatchImageCapability is an optional ImageCapability extension for
// providers that natively support generating a batch in one call.
type BatchImageCapability interface {
	GenerateImages(ctx context.Context, prompts []string, opts []ImageOptions) ([]ImageResult, error)
}

// SupportsBatch reports whether img additionally satisfies
// BatchImageCapability.
func SupportsBatch(img ImageCapability) (BatchImageCapability, bool) {
	b, ok := img.(BatchImageCapability)
	return b, ok
}

// AnalysisResult is the outcome of scoring a single image against a prompt.
type AnalysisResult struct {
	AlignmentScore float64 // [0, 100]
	AestheticScore float64 // [0, 10]
	Metadata       map[string]any
}

// CompareItem is one image offered to a comparison call, identified by a
// caller-chosen label (not necessarily the true candidate id — the ensemble
// comparator may present a swapped label to mitigate position bias).
type CompareItem struct {
	Label   string
	Locator string
}

// CompareRank is one image's placement within a CompareResult.
type CompareRank struct {
	Label     string
	Rank      int // 1 = best
	Reason    string
	Alignment int // optional per-factor rank, 0 if unset
	Aesthetic int
	Combined  int
}

// CompareResult is the outcome of a single vision comparison call, which may
// involve two images (pairwise) or more (all-at-once).
type CompareResult struct {
	Ranking []CompareRank
}

// VisionCapability is the required core of the vision/ranking provider.
// Image analysis is not part of it: providers that support it also implement
// AnalysisCapability, found with SupportsAnalysis; a leaf whose provider
// lacks it, or whose analysis call fails, is left unscored.
type VisionCapability interface {
	CompareImages(ctx context.Context, items []CompareItem, prompt string) (CompareResult, error)
	// MultiImageThreshold is the maximum number of images CompareImages can
	// score in a single call; the ranker clamps its configured
	// AllAtOnceThreshold to it before choosing a strategy.
	MultiImageThreshold(ctx context.Context) (int, error)
	Status(ctx context.Context) (Status, error)
}

// AnalysisCapability is an optional VisionCapability extension.
type AnalysisCapability interface {
	AnalyzeImage(ctx context.Context, locator, prompt string) (AnalysisResult, error)
}

// SupportsAnalysis probes vision for AnalysisCapability.
func SupportsAnalysis(vision VisionCapability) (AnalysisCapability, bool) {
	a, ok := vision.(AnalysisCapability)
	return a, ok
}
