package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"ivg/internal/config"
	"ivg/internal/faults"
	"ivg/internal/gateway"
	"ivg/internal/imaging"
	"ivg/internal/jobs"
	"ivg/internal/logging"
	"ivg/internal/segment"
	"ivg/internal/store"
)

// Editor is the provider call a variation needs. *gateway.Gateway satisfies it.
type Editor interface {
	Edit(ctx context.Context, req gateway.Request, timeout time.Duration) ([]byte, error)
}

// StyleResolver looks styles up by id.
type StyleResolver interface {
	Get(ctx context.Context, id string) (store.Style, error)
}

// HistoryRecorder records completed jobs.
type HistoryRecorder interface {
	Record(ctx context.Context, entry store.HistoryEntry) error
}

// Settings tunes the engine.
type Settings struct {
	Segment          segment.Options
	FastSegment      segment.Options
	ReferenceMaxSize int
	ProviderTimeout  time.Duration
}

// SettingsFromConfig derives engine settings from the daemon configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	base := segment.Options{
		Tolerance:   cfg.Segment.Tolerance,
		FGThreshold: cfg.Segment.FGThreshold,
		BGThreshold: cfg.Segment.BGThreshold,
		ErodeSize:   cfg.Segment.ErodeSize,
	}
	fast := base
	fast.Tolerance = cfg.Segment.FastTolerance
	fast.ErodeSize = cfg.Segment.FastErodeSize
	return Settings{
		Segment:          base,
		FastSegment:      fast,
		ReferenceMaxSize: cfg.Provider.ReferenceMaxSize,
		ProviderTimeout:  cfg.ProviderTimeout(),
	}
}

// Engine executes jobs. It implements jobs.Executor.
type Engine struct {
	assets   store.AssetStore
	styles   StyleResolver
	history  HistoryRecorder
	editor   Editor
	settings Settings
	logger   *slog.Logger
}

// New builds an engine over the given collaborators.
func New(assets store.AssetStore, styles StyleResolver, history HistoryRecorder, editor Editor, settings Settings, logger *slog.Logger) *Engine {
	return &Engine{
		assets:   assets,
		styles:   styles,
		history:  history,
		editor:   editor,
		settings: settings,
		logger:   logging.NewComponentLogger(logger, "pipeline"),
	}
}

// source is the decoded input of a job.
type source struct {
	img       image.Image
	inputRefs []string
	style     *store.Style
}

// Execute runs job and returns the id of the stored output asset.
func (e *Engine) Execute(ctx context.Context, job jobs.Job) (string, error) {
	logger := e.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKind, string(job.Kind)),
	)
	started := time.Now()

	src, err := e.resolveSource(ctx, job)
	if err != nil {
		return "", err
	}

	var (
		output []byte
		role   store.Role
	)
	switch job.Kind {
	case jobs.KindBackgroundRemoval:
		output, err = e.removeBackground(ctx, job, src)
		role = store.RoleBackground
	case jobs.KindVariation:
		output, err = e.variation(ctx, job, src)
		role = store.RoleResult
	default:
		return "", faults.Input(fmt.Sprintf("unknown job kind %q", job.Kind), nil)
	}
	if err != nil {
		return "", err
	}

	outputRef, err := e.assets.Put(ctx, job.OwnerScope, output, "image/png", role, fmt.Sprintf("%s_%s.png", job.ID, role))
	if err != nil {
		return "", faults.Storage("store output image", err)
	}

	entry := store.HistoryEntry{
		OwnerScope: job.OwnerScope,
		JobID:      job.ID,
		JobKind:    string(job.Kind),
		InputRefs:  src.inputRefs,
		OutputRef:  outputRef,
	}
	if src.style != nil {
		entry.StyleID = src.style.ID
	}
	if err := e.history.Record(ctx, entry); err != nil {
		logger.Warn("history record failed; output asset is orphaned",
			logging.String("output_ref", outputRef),
			logging.Error(err),
			logging.String(logging.FieldEventType, "history_record_failed"),
		)
		return "", faults.Storage("record history", err)
	}

	logger.Info("pipeline finished",
		logging.String("output_ref", outputRef),
		logging.Int("output_bytes", len(output)),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "pipeline_complete"),
	)
	return outputRef, nil
}

// resolveSource picks the job's source image: the named asset, or for a
// styled variation without one, the style's reference image.
func (e *Engine) resolveSource(ctx context.Context, job jobs.Job) (source, error) {
	var (
		src  source
		data []byte
	)
	switch {
	case job.Input.AssetID != "":
		asset, err := e.assets.Get(ctx, job.OwnerScope, job.Input.AssetID)
		if errors.Is(err, store.ErrNotFound) {
			return source{}, faults.Input(fmt.Sprintf("asset %q not found", job.Input.AssetID), nil)
		}
		if err != nil {
			return source{}, faults.Storage("load source asset", err)
		}
		data = asset.Data
		src.inputRefs = []string{asset.ID}
	case job.Kind == jobs.KindVariation && job.Input.StyleID != "":
		style, err := e.resolveStyle(ctx, job.Input.StyleID)
		if err != nil {
			return source{}, err
		}
		ref, err := e.loadReference(ctx, job.OwnerScope, style)
		if err != nil {
			return source{}, err
		}
		data = ref
		src.style = &style
		src.inputRefs = []string{style.ReferenceAssetID}
	default:
		return source{}, faults.Input("an asset_id is required", nil)
	}

	img, _, err := imaging.Decode(data)
	if err != nil {
		return source{}, faults.Input("source is not a readable image", err)
	}
	src.img = img
	return src, nil
}

func (e *Engine) resolveStyle(ctx context.Context, id string) (store.Style, error) {
	if e.styles == nil {
		return store.Style{}, faults.StyleNotFound(id)
	}
	style, err := e.styles.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Style{}, faults.StyleNotFound(id)
	}
	if err != nil {
		return store.Style{}, faults.Storage("load style", err)
	}
	return style, nil
}

func (e *Engine) loadReference(ctx context.Context, owner string, style store.Style) ([]byte, error) {
	asset, err := e.assets.Get(ctx, owner, style.ReferenceAssetID)
	if err != nil {
		return nil, faults.Storage(fmt.Sprintf("load reference for style %q", style.ID), err)
	}
	return asset.Data, nil
}

func (e *Engine) removeBackground(ctx context.Context, job jobs.Job, src source) ([]byte, error) {
	opts := e.settings.Segment
	if job.Input.FastMode {
		opts = e.settings.FastSegment
	}
	out, err := segment.Remove(ctx, src.img, opts)
	switch {
	case errors.Is(err, segment.ErrNoSubject):
		return nil, faults.Input("no subject found in source image", err)
	case ctx.Err() != nil:
		return nil, faults.New(faults.KindInterrupted, "background removal cancelled", ctx.Err())
	case err != nil:
		return nil, fmt.Errorf("remove background: %w", err)
	}
	data, err := imaging.EncodePNG(out)
	if err != nil {
		return nil, fmt.Errorf("encode cutout: %w", err)
	}
	return data, nil
}

func (e *Engine) variation(ctx context.Context, job jobs.Job, src source) ([]byte, error) {
	if e.editor == nil {
		return nil, faults.ProviderPermanent("no image provider configured", nil)
	}
	style := src.style
	if style == nil && job.Input.StyleID != "" {
		resolved, err := e.resolveStyle(ctx, job.Input.StyleID)
		if err != nil {
			return nil, err
		}
		style = &resolved
		src.style = style
	}
	if style == nil && imaging.NormalizeText(job.Input.Prompt) == "" {
		return nil, faults.Input("a variation needs a style or a prompt", nil)
	}

	hint := imaging.LayoutHint(src.img)
	var styleCtx *gateway.StyleContext
	rules := ""
	if style != nil {
		reference, err := e.loadReference(ctx, job.OwnerScope, *style)
		if err != nil {
			return nil, err
		}
		if job.Input.FastMode {
			reference = e.shrinkReference(reference)
		}
		rules = style.Rules
		styleCtx = &gateway.StyleContext{Rules: rules, Reference: reference, LayoutHint: hint}
	}

	prompt, err := imaging.BuildPrompt(rules, hint, job.Input.Prompt)
	if err != nil {
		return nil, faults.New(faults.KindInternal, "build prompt", err)
	}
	sourcePNG, err := imaging.EncodePNG(src.img)
	if err != nil {
		return nil, fmt.Errorf("encode source: %w", err)
	}

	return e.editor.Edit(ctx, gateway.Request{
		Image:    sourcePNG,
		Prompt:   prompt,
		Style:    styleCtx,
		FastMode: job.Input.FastMode,
	}, e.settings.ProviderTimeout)
}

// shrinkReference downscales the reference for fast mode. An undecodable
// reference is passed through unchanged.
func (e *Engine) shrinkReference(data []byte) []byte {
	if e.settings.ReferenceMaxSize <= 0 {
		return data
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return data
	}
	b := img.Bounds()
	if b.Dx() <= e.settings.ReferenceMaxSize && b.Dy() <= e.settings.ReferenceMaxSize {
		return data
	}
	small, err := imaging.EncodePNG(imaging.Downscale(img, e.settings.ReferenceMaxSize))
	if err != nil {
		return data
	}
	return small
}
