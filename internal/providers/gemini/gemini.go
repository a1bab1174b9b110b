package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"ivg/internal/gateway"
	"ivg/internal/imaging"
	"ivg/internal/logging"
)

const (
	DefaultModel     = "gemini-3-pro-image-preview"
	DefaultFastModel = "gemini-2.5-flash-image"
)

// Config configures the Gemini image-edit provider.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	ModelFast  string
	HTTPClient *http.Client
}

// Provider edits images with the Gemini API.
type Provider struct {
	client    *genai.Client
	model     string
	modelFast string
	logger    *slog.Logger
}

// New creates a Gemini provider. The API key is required.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	fast := strings.TrimSpace(cfg.ModelFast)
	if fast == "" {
		fast = DefaultFastModel
	}
	return &Provider{
		client:    client,
		model:     model,
		modelFast: fast,
		logger:    logging.NewComponentLogger(logger, "gemini"),
	}, nil
}

// Name implements gateway.Provider.
func (p *Provider) Name() string { return "gemini" }

// Model returns the model used for the given mode.
func (p *Provider) Model(fast bool) string {
	if fast {
		return p.modelFast
	}
	return p.model
}

// Edit implements gateway.Provider.
func (p *Provider) Edit(ctx context.Context, req gateway.Request) ([]byte, error) {
	model := p.Model(req.FastMode)
	contents := []*genai.Content{genai.NewContentFromParts(buildParts(req), genai.RoleUser)}
	config := &genai.GenerateContentConfig{ResponseModalities: []string{"IMAGE", "TEXT"}}

	started := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, translateError(err)
	}
	p.logger.Debug("generate_content finished",
		logging.String("model", model),
		logging.Duration("elapsed", time.Since(started)),
	)
	return extractImage(resp)
}

// buildParts orders the prompt, the style reference and the source image.
// Outside fast mode the source is sent twice to anchor the layout.
func buildParts(req gateway.Request) []*genai.Part {
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	if req.Style != nil && len(req.Style.Reference) > 0 {
		parts = append(parts,
			genai.NewPartFromText(imaging.ReferenceLabel),
			genai.NewPartFromBytes(req.Style.Reference, "image/png"),
		)
	}
	parts = append(parts,
		genai.NewPartFromText(imaging.SourceLabel),
		genai.NewPartFromBytes(req.Image, "image/png"),
	)
	if !req.FastMode {
		parts = append(parts,
			genai.NewPartFromText(imaging.SourceRepeatLabel),
			genai.NewPartFromBytes(req.Image, "image/png"),
		)
	}
	return parts
}

func extractImage(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil {
		return nil, gateway.ErrEmptyResult
	}
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			inline := part.InlineData
			if inline == nil || len(inline.Data) == 0 || !strings.HasPrefix(inline.MIMEType, "image/") {
				continue
			}
			if inline.MIMEType == "image/png" {
				return inline.Data, nil
			}
			normalized, err := imaging.NormalizePNG(inline.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", gateway.ErrEmptyResult, err)
			}
			return normalized, nil
		}
	}
	if summary := strings.TrimSpace(text.String()); summary != "" {
		if len(summary) > 200 {
			summary = summary[:200]
		}
		return nil, fmt.Errorf("%w: model replied with text: %s", gateway.ErrEmptyResult, summary)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: prompt blocked: %s", gateway.ErrEmptyResult, resp.PromptFeedback.BlockReason)
	}
	return nil, gateway.ErrEmptyResult
}

// translateError converts SDK errors into gateway.StatusError so the gateway
// can classify them.
func translateError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusFromAPIError(apiErr, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return statusFromAPIError(*apiErrPtr, err)
	}
	return err
}

func statusFromAPIError(apiErr genai.APIError, cause error) error {
	msg := strings.TrimSpace(apiErr.Message)
	if msg == "" {
		msg = cause.Error()
	}
	return &gateway.StatusError{
		StatusCode: apiErr.Code,
		Status:     apiErr.Status,
		Message:    msg,
		RetryAfter: retryDelay(apiErr.Details),
	}
}

// retryDelay reads google.rpc.RetryInfo from error details.
func retryDelay(details []map[string]any) time.Duration {
	for _, detail := range details {
		kind, _ := detail["@type"].(string)
		if !strings.HasSuffix(kind, "google.rpc.RetryInfo") {
			continue
		}
		raw, _ := detail["retryDelay"].(string)
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return 0
}
