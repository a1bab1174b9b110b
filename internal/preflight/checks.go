package preflight

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"ivg/internal/config"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckProvider verifies the image provider has the credentials it needs.
// No request is made; a wrong key surfaces as provider_permanent failures.
func CheckProvider(cfg *config.Config) Result {
	const name = "Image provider"
	switch cfg.Provider.Name {
	case config.ProviderGemini:
		if strings.TrimSpace(cfg.Provider.APIKey) == "" {
			return Result{Name: name, Detail: "gemini (api key missing; set GEMINI_API_KEY)"}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("gemini (%s)", cfg.Provider.Model)}
	case config.ProviderPalette:
		return Result{Name: name, Passed: true, Detail: "palette (offline)"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("unknown provider %q", cfg.Provider.Name)}
	}
}

// CheckStorage verifies the storage driver settings.
func CheckStorage(cfg *config.Config) Result {
	const name = "Storage"
	switch cfg.Storage.Driver {
	case config.StorageSQLite:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("sqlite (%s)", cfg.DatabasePath())}
	case config.StoragePostgres:
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return Result{Name: name, Detail: "postgres (dsn missing; set DATABASE_URL)"}
		}
		return Result{Name: name, Passed: true, Detail: "postgres (" + redactDSN(cfg.Storage.DSN) + ")"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("unknown driver %q", cfg.Storage.Driver)}
	}
}

// CheckNtfyTopic verifies the ntfy topic is an absolute http(s) URL.
func CheckNtfyTopic(topic string) Result {
	const name = "ntfy"
	u, err := url.Parse(strings.TrimSpace(topic))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Result{Name: name, Detail: fmt.Sprintf("%q is not an http(s) topic URL", topic)}
	}
	return Result{Name: name, Passed: true, Detail: u.Host + u.Path}
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "configured"
	}
	return u.Host + u.Path
}
