package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrNotFound is returned when a record does not exist or is not visible
	// to the requesting owner.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when creating a style whose id is taken.
	ErrExists = errors.New("already exists")
	// ErrInvalid is returned for malformed input.
	ErrInvalid = errors.New("invalid input")
)

// StylesScope is the reserved owner scope holding style reference assets.
// Assets in this scope are readable by every owner.
const StylesScope = "styles"

// Role tags why an asset was stored.
type Role string

const (
	RoleUpload         Role = "upload"
	RoleResult         Role = "result"
	RoleBackground     Role = "bg_removed"
	RoleStyleReference Role = "style_reference"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUpload, RoleResult, RoleBackground, RoleStyleReference:
		return true
	}
	return false
}

// Asset is an immutable stored image.
type Asset struct {
	ID          string    `json:"id"`
	OwnerScope  string    `json:"owner"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Role        Role      `json:"role"`
	Filename    string    `json:"filename,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Data        []byte    `json:"-"`
}

// Style is a named visual style with rules and a reference image.
type Style struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Rules            string          `json:"rules"`
	ReferenceAssetID string          `json:"reference_asset_id"`
	Profile          json.RawMessage `json:"profile,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// NewStyle is the input for creating a style.
type NewStyle struct {
	ID          string
	Name        string
	Description string
	Rules       string
	Reference   []byte
	// ReferenceType is the content type of Reference.
	ReferenceType string
	Profile       json.RawMessage
}

// HistoryEntry records one completed job.
type HistoryEntry struct {
	ID         string    `json:"id"`
	OwnerScope string    `json:"owner"`
	JobID      string    `json:"job_id"`
	JobKind    string    `json:"job_kind"`
	InputRefs  []string  `json:"input_refs"`
	OutputRef  string    `json:"output_ref"`
	StyleID    string    `json:"style_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AssetStore stores and fetches immutable assets.
type AssetStore interface {
	Put(ctx context.Context, owner string, data []byte, contentType string, role Role, filename string) (string, error)
	Get(ctx context.Context, owner, id string) (Asset, error)
}

// StyleCatalog resolves and registers styles.
type StyleCatalog interface {
	Get(ctx context.Context, id string) (Style, error)
	List(ctx context.Context) ([]Style, error)
	Create(ctx context.Context, in NewStyle) (Style, error)
}

// HistoryLog records and lists completed jobs per owner.
type HistoryLog interface {
	Record(ctx context.Context, entry HistoryEntry) error
	List(ctx context.Context, owner string, limit int) ([]HistoryEntry, error)
}

// Backend bundles the three persistence contracts.
type Backend interface {
	Assets() AssetStore
	Styles() StyleCatalog
	History() HistoryLog
	Close() error
}

// Options tunes store behaviour.
type Options struct {
	// HistoryMax caps history entries kept per owner. Zero keeps everything.
	HistoryMax int
	// RulesMaxChars truncates style rules. Zero disables truncation.
	RulesMaxChars int
}

var slugFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify derives a style id from a display name.
func Slugify(name string) string {
	folded, _, err := transform.String(slugFolder, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// TitleFromSlug renders a slug as a display name.
func TitleFromSlug(slug string) string {
	words := strings.NewReplacer("-", " ", "_", " ").Replace(slug)
	return cases.Title(language.English).String(strings.TrimSpace(words))
}
