package testsupport

import (
	"context"
	"image/color"
	"testing"

	"ivg/internal/config"
	"ivg/internal/store"
)

// MustOpenStore opens the sqlite catalog for cfg and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	s, err := store.Open(context.Background(), cfg.DatabasePath(), store.Options{
		HistoryMax:    cfg.History.MaxEntries,
		RulesMaxChars: cfg.Styles.RulesMaxChars,
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

// NewStyle registers a style with a solid blue reference image.
func NewStyle(t testing.TB, catalog store.StyleCatalog, name, rules string) store.Style {
	t.Helper()

	style, err := catalog.Create(context.Background(), store.NewStyle{
		Name:      name,
		Rules:     rules,
		Reference: SolidPNG(t, 16, 16, color.NRGBA{B: 200, A: 255}),
	})
	if err != nil {
		t.Fatalf("create style %q: %v", name, err)
	}
	return style
}
