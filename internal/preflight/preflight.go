package preflight

import (
	"context"

	"ivg/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail"`
	Required bool   `json:"required"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	data := CheckDirectoryAccess("Data directory", cfg.Paths.DataDir)
	data.Required = true
	logs := CheckDirectoryAccess("Log directory", cfg.Paths.LogDir)
	logs.Required = true

	results := []Result{data, logs, CheckProvider(cfg), CheckStorage(cfg)}

	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNtfyTopic(cfg.Notifications.NtfyTopic))
	}
	return results
}

// FirstRequiredFailure returns the first failed required check.
func FirstRequiredFailure(results []Result) (Result, bool) {
	for _, r := range results {
		if r.Required && !r.Passed {
			return r, true
		}
	}
	return Result{}, false
}
