package main

import (
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ivg/internal/api"
	"ivg/internal/imaging"
	"ivg/internal/jobs"
	"ivg/internal/logging"
	"ivg/internal/logs"
	"ivg/internal/testsupport"
)

func TestHealthAndStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	requireContains(t, out, "is ok")

	out, err = env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got := fieldAfter(t, out, "Provider:"); got != "palette" {
		t.Fatalf("provider = %q", got)
	}
	if got := fieldAfter(t, out, "Breaker:"); got != "[closed]" {
		t.Fatalf("breaker = %q", got)
	}
	requireContains(t, out, "generation")
	requireContains(t, out, "background_removal")

	out, err = env.run(t, "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status api.StatusResponse
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if status.PID != os.Getpid() || status.Provider != "palette" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestHealthReportsUnreachableDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	_, err := runCLI(t, []string{"--config", configPath, "--addr", "127.0.0.1:1", "health"})
	if err == nil {
		t.Fatal("expected error without a daemon")
	}
	requireContains(t, err.Error(), "ivg daemon run")
}

func TestTokenIsReadFromConfig(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithToken("s3cret"))

	if _, err := env.run(t, "status"); err != nil {
		t.Fatalf("status with configured token: %v", err)
	}
	if _, err := env.run(t, "--token", "wrong", "status"); err == nil {
		t.Fatal("expected bad token to be rejected")
	}
}

func TestUploadSubmitAndFetchResult(t *testing.T) {
	env := setupCLITestEnv(t)
	source := filepath.Join(env.baseDir, "subject.png")
	testsupport.WriteFile(t, source, testsupport.SubjectPNG(t))

	out, err := env.run(t, "upload", source)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	requireContains(t, out, "Uploaded subject.png as ")
	assetID := fieldAfter(t, out, "Uploaded subject.png as")

	result := filepath.Join(env.baseDir, "out", "cutout.png")
	out, err = env.run(t, "submit", "background-removal", "--asset", assetID, "-o", result)
	if err != nil {
		t.Fatalf("submit: %v\n%s", err, out)
	}
	requireContains(t, out, string(jobs.StateSucceeded))
	requireContains(t, out, "Saved result to "+result)

	data, err := os.ReadFile(result)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if _, format, err := imaging.DecodeConfig(data); err != nil || format != "png" {
		t.Fatalf("result is not a png: format=%q err=%v", format, err)
	}

	out, err = env.run(t, "history", "--json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode history: %v\n%s", err, out)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one history entry, got %d", len(entries))
	}

	// Another owner sees nothing.
	out, err = runCLI(t, []string{"--config", env.configPath, "--addr", env.addr, "--owner", "someone-else", "history"})
	if err != nil {
		t.Fatalf("history other owner: %v", err)
	}
	requireContains(t, out, "No history yet")
}

func TestSubmitVariationWithFileAndJobLookup(t *testing.T) {
	env := setupCLITestEnv(t)
	source := filepath.Join(env.baseDir, "subject.png")
	testsupport.WriteFile(t, source, testsupport.SubjectPNG(t))

	out, err := env.run(t, "submit", "variation", "--file", source, "--prompt", "make it teal", "--wait", "--json")
	if err != nil {
		t.Fatalf("submit: %v\n%s", err, out)
	}
	var snap jobs.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("decode snapshot: %v\n%s", err, out)
	}
	if snap.State != jobs.StateSucceeded || snap.OutputRef == "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	out, err = env.run(t, "job", snap.JobID)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	requireContains(t, out, "Job "+snap.JobID)
	requireContains(t, out, snap.OutputRef)

	if _, err := env.run(t, "job", "does-not-exist"); err == nil {
		t.Fatal("expected unknown job to fail")
	}
}

func TestSubmitFailedJobReturnsError(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "submit", "variation", "--asset", "missing-asset", "--prompt", "x", "--wait")
	if err == nil {
		t.Fatalf("expected failure, got output %s", out)
	}
	requireContains(t, err.Error(), "failed")
	requireContains(t, out, string(jobs.StateFailed))
}

func TestSubmitRejectsAssetAndFileTogether(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := env.run(t, "submit", "variation", "--asset", "a", "--file", "b.png")
	if err == nil || !strings.Contains(err.Error(), "not both") {
		t.Fatalf("expected flag conflict error, got %v", err)
	}
}

func TestStylesAddAndList(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "styles", "list")
	if err != nil {
		t.Fatalf("styles list: %v", err)
	}
	requireContains(t, out, "No styles registered")

	reference := filepath.Join(env.baseDir, "reference.png")
	testsupport.WriteFile(t, reference, testsupport.SolidPNG(t, 8, 8, color.NRGBA{R: 20, G: 120, B: 200, A: 255}))

	out, err = env.run(t, "styles", "add", "Blueprint", "--id", "blueprint", "--rules", "flat blue ink", "--reference", reference)
	if err != nil {
		t.Fatalf("styles add: %v", err)
	}
	requireContains(t, out, "Registered style blueprint (Blueprint)")

	if _, err := env.run(t, "styles", "add", "Blueprint", "--id", "blueprint", "--rules", "again", "--reference", reference); err == nil {
		t.Fatal("expected duplicate style to fail")
	}

	out, err = env.run(t, "styles", "list")
	if err != nil {
		t.Fatalf("styles list: %v", err)
	}
	requireContains(t, out, "blueprint")
	requireContains(t, out, "flat blue ink")

	if _, err := env.run(t, "styles", "add", "NoRef", "--rules", "x"); err == nil {
		t.Fatal("expected missing reference to fail")
	}
}

func TestLogsFiltersByComponent(t *testing.T) {
	env := setupCLITestEnv(t)
	now := time.Now()
	env.logs.Publish(logging.LogEvent{Timestamp: now, Level: "info", Message: "lane started", Component: "lanes"})
	env.logs.Publish(logging.LogEvent{Timestamp: now, Level: "error", Message: "provider down", Component: "gateway",
		Fields: map[string]string{"status": "503"}})

	out, err := env.run(t, "logs", "--component", "gateway")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "provider down")
	requireContains(t, out, "status=503")
	if strings.Contains(out, "lane started") {
		t.Fatalf("component filter leaked other events: %s", out)
	}
}

func TestConfigInitShowAndValidate(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	target := filepath.Join(dir, "ivg", "config.toml")

	out, err := runCLI(t, []string{"config", "init", "--path", target})
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration to "+target)
	if _, err := runCLI(t, []string{"config", "init", "--path", target}); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}
	if _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	cfg := testsupport.NewConfig(t, testsupport.WithToken("hunter2"))
	cfgPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, cfgPath, cfg)

	out, err = runCLI(t, []string{"--config", cfgPath, "config", "show"})
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "<redacted>")
	if strings.Contains(out, "hunter2") {
		t.Fatalf("token leaked in config show: %s", out)
	}

	out, err = runCLI(t, []string{"--config", cfgPath, "config", "validate"})
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
}

func TestLogsFallsBackToLogFileWhenDaemonIsDown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	testsupport.WriteFile(t, logs.CurrentPath(cfg.Paths.LogDir), []byte("first\nsecond\nthird\n"))

	out, err := runCLI(t, []string{"--config", configPath, "--addr", "127.0.0.1:1", "logs", "-n", "2"})
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.Contains(out, "first") {
		t.Fatalf("expected only the last two lines, got %q", out)
	}
	requireContains(t, out, "second\nthird\n")
}
