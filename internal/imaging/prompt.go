package imaging

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/unicode/norm"
)

//go:embed prompt.tmpl
var promptTemplateText string

var promptTemplate = template.Must(template.New("variation").Parse(promptTemplateText))

const (
	// DefaultRequest is used when a variation names a style but no prompt.
	DefaultRequest = "Apply the style."
	noneProvided   = "None provided."
)

// Labels that introduce each image part sent to the provider.
const (
	ReferenceLabel    = "STYLE REFERENCE IMAGE (style only; do not copy content or composition)"
	SourceLabel       = "SOURCE IMAGE (ground-truth content/composition; preserve unless user requests changes)"
	SourceRepeatLabel = "SOURCE IMAGE (repeat for emphasis; do not change layout, scale, or framing)"
)

type promptData struct {
	StyleRules  string
	LayoutHint  string
	UserRequest string
}

// BuildPrompt renders the variation instruction from style rules, a layout
// hint and the user's request. Text is NFC-normalized before rendering.
func BuildPrompt(styleRules, layoutHint, userRequest string) (string, error) {
	data := promptData{
		StyleRules:  orNone(styleRules),
		LayoutHint:  orNone(layoutHint),
		UserRequest: NormalizeText(userRequest),
	}
	if data.UserRequest == "" {
		data.UserRequest = DefaultRequest
	}
	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

// NormalizeText trims and NFC-normalizes free text.
func NormalizeText(value string) string {
	return strings.TrimSpace(norm.NFC.String(value))
}

// TruncateRules caps style rules at limit runes.
func TruncateRules(rules string, limit int) string {
	rules = NormalizeText(rules)
	if limit <= 0 {
		return rules
	}
	runes := []rune(rules)
	if len(runes) <= limit {
		return rules
	}
	return strings.TrimSpace(string(runes[:limit]))
}

func orNone(value string) string {
	value = NormalizeText(value)
	if value == "" {
		return noneProvided
	}
	return value
}
