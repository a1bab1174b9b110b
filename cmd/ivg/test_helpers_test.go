package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"ivg/internal/config"
	"ivg/internal/daemon"
	"ivg/internal/logging"
	"ivg/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	logs       *logging.StreamHub
	configPath string
	baseDir    string
	addr       string
	owner      string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))
	t.Setenv("IVG_OWNER", "")
	t.Setenv("IVG_JOBS_MODE", "")

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	hub := logging.NewStreamHub(64)
	d, err := daemon.New(context.Background(), cfg, logging.NewNop(), daemon.Options{Logs: hub})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		_ = d.Close()
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.Stop()
		_ = d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		logs:       hub,
		configPath: configPath,
		baseDir:    base,
		addr:       d.Addr(),
		owner:      "cli-tests",
	}
}

// run executes the CLI against the env's daemon.
func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	flags := []string{"--config", e.configPath, "--addr", e.addr, "--owner", e.owner}
	return runCLI(t, append(flags, args...))
}

func runCLI(t *testing.T, args []string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

// fieldAfter returns the whitespace-separated token that follows label in
// output.
func fieldAfter(t *testing.T, output, label string) string {
	t.Helper()
	idx := strings.Index(output, label)
	if idx < 0 {
		t.Fatalf("expected %q in %q", label, output)
	}
	fields := strings.Fields(output[idx+len(label):])
	if len(fields) == 0 {
		t.Fatalf("nothing after %q in %q", label, output)
	}
	return fields[0]
}
