package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ivg/internal/api"
	"ivg/internal/faults"
	"ivg/internal/gateway"
	"ivg/internal/ipc"
	"ivg/internal/jobs"
	"ivg/internal/logging"
	"ivg/internal/pipeline"
	"ivg/internal/providers/palette"
	"ivg/internal/segment"
	"ivg/internal/store"
	"ivg/internal/testsupport"
)

type harness struct {
	server  *httptest.Server
	manager *jobs.Manager
	catalog *store.Store
	queued  *holdDispatcher
}

type holdDispatcher struct {
	mu   sync.Mutex
	jobs []jobs.Job
}

func (d *holdDispatcher) Dispatch(job jobs.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
}

func (d *holdDispatcher) take(t *testing.T) jobs.Job {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.jobs) == 0 {
		t.Fatal("no job was dispatched")
	}
	job := d.jobs[0]
	d.jobs = d.jobs[1:]
	return job
}

func newHarness(t *testing.T, mode jobs.Mode, mutate func(*api.Deps)) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "ivg.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	catalog, err := store.New(ctx, db, store.Options{HistoryMax: 50})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	jobStore, err := jobs.NewStore(ctx, db)
	if err != nil {
		t.Fatalf("jobs.NewStore: %v", err)
	}

	logger := logging.NewNop()
	gw := gateway.New(palette.New(), gateway.WithMaxRetries(0), gateway.WithLogger(logger))
	engine := pipeline.New(catalog.Assets(), catalog.Styles(), catalog.History(), gw, pipeline.Settings{
		Segment:          segment.DefaultOptions(),
		FastSegment:      segment.DefaultOptions(),
		ReferenceMaxSize: 64,
		ProviderTimeout:  5 * time.Second,
	}, logger)
	manager := jobs.NewManager(jobStore, engine, logger, jobs.WithMode(mode))
	dispatcher := &holdDispatcher{}
	manager.SetDispatcher(dispatcher)

	deps := api.Deps{
		Jobs:    manager,
		Mode:    mode,
		Assets:  catalog.Assets(),
		Styles:  catalog.Styles(),
		History: catalog.History(),
		Logs:    logging.NewStreamHub(32),
		Status: func(ctx context.Context) (api.StatusResponse, error) {
			counts, err := manager.Counts(ctx)
			return api.StatusResponse{Mode: mode, Provider: gw.ProviderName(), BreakerState: string(gw.State()), Jobs: counts}, err
		},
		MaxUploadBytes:    64 * 1024,
		StreamIdleTimeout: 5 * time.Second,
		Logger:            logger,
	}
	if mutate != nil {
		mutate(&deps)
	}
	server := httptest.NewServer(api.NewServer(deps))
	t.Cleanup(server.Close)
	return &harness{server: server, manager: manager, catalog: catalog, queued: dispatcher}
}

func (h *harness) do(t *testing.T, method, path, owner string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if owner != "" {
		req.Header.Set(api.OwnerHeader, owner)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := h.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) upload(t *testing.T, owner string) api.UploadResponse {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/api/assets?filename=subject.png", owner, bytes.NewReader(testsupport.SubjectPNG(t)), "image/png")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var out api.UploadResponse
	decode(t, resp, &out)
	return out
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthIsPublicWhenTokenSet(t *testing.T) {
	h := newHarness(t, jobs.ModeInline, func(d *api.Deps) { d.Token = "secret" })

	if resp := h.do(t, http.MethodGet, "/api/health", "", nil, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if resp := h.do(t, http.MethodGet, "/api/status", "", nil, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	client, err := ipc.New(h.server.URL, ipc.Options{Token: "secret"})
	if err != nil {
		t.Fatalf("ipc.New: %v", err)
	}
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Provider != "palette" || status.Mode != jobs.ModeInline {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestUploadAndFetchAssetIsOwnerScoped(t *testing.T) {
	h := newHarness(t, jobs.ModeInline, nil)
	up := h.upload(t, "alice")
	if up.ContentType != "image/png" || up.Width != 24 || up.Height != 24 {
		t.Fatalf("unexpected upload response %+v", up)
	}

	resp := h.do(t, http.MethodGet, "/api/assets/"+up.AssetID, "alice", nil, "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("get asset status=%d type=%q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if resp := h.do(t, http.MethodGet, "/api/assets/"+up.AssetID, "bob", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("other owner status = %d, want 404", resp.StatusCode)
	}
}

func TestUploadRejections(t *testing.T) {
	h := newHarness(t, jobs.ModeInline, nil)

	resp := h.do(t, http.MethodPost, "/api/assets?filename=subject.tiff", "", bytes.NewReader(testsupport.SubjectPNG(t)), "image/png")
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("extension status = %d, want 415", resp.StatusCode)
	}

	resp = h.do(t, http.MethodPost, "/api/assets?filename=notes.png", "", strings.NewReader("plain text"), "")
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("non-image status = %d, want 415", resp.StatusCode)
	}

	big := bytes.Repeat([]byte{0x89}, 128*1024)
	resp = h.do(t, http.MethodPost, "/api/assets?filename=big.png", "", bytes.NewReader(big), "image/png")
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversize status = %d, want 413", resp.StatusCode)
	}

	resp = h.do(t, http.MethodPost, "/api/assets", store.StylesScope, bytes.NewReader(testsupport.SubjectPNG(t)), "image/png")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("reserved owner status = %d, want 400", resp.StatusCode)
	}
}

func TestSubmitInlineVariationReturnsTerminalSnapshot(t *testing.T) {
	h := newHarness(t, jobs.ModeInline, nil)
	up := h.upload(t, "alice")

	body := `{"kind":"variation","asset_id":"` + up.AssetID + `","prompt":"make it teal"}`
	resp := h.do(t, http.MethodPost, "/api/jobs", "alice", strings.NewReader(body), "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d, want 200", resp.StatusCode)
	}
	var snap jobs.Snapshot
	decode(t, resp, &snap)
	if snap.State != jobs.StateSucceeded || snap.OutputRef == "" || snap.Error != nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	resp = h.do(t, http.MethodGet, "/api/jobs/"+snap.JobID, "", nil, "")
	var fetched jobs.Snapshot
	decode(t, resp, &fetched)
	if fetched.Sequence != snap.Sequence || fetched.OutputRef != snap.OutputRef {
		t.Fatalf("fetched %+v, submitted %+v", fetched, snap)
	}

	if resp := h.do(t, http.MethodGet, "/api/assets/"+snap.OutputRef, "alice", nil, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("result asset status = %d", resp.StatusCode)
	}

	resp = h.do(t, http.MethodGet, "/api/history?limit=5", "alice", nil, "")
	var history api.HistoryResponse
	decode(t, resp, &history)
	if len(history.Entries) != 1 || history.Entries[0].JobID != snap.JobID {
		t.Fatalf("unexpected history %+v", history.Entries)
	}
	resp = h.do(t, http.MethodGet, "/api/history", "bob", nil, "")
	decode(t, resp, &history)
	if len(history.Entries) != 0 {
		t.Fatalf("bob sees alice's history: %+v", history.Entries)
	}
}

func TestSubmitInlineFailureIsRecordedOnSnapshot(t *testing.T) {
	h := newHarness(t, jobs.ModeInline, nil)

	body := `{"kind":"background-removal","asset_id":"missing"}`
	resp := h.do(t, http.MethodPost, "/api/jobs", "", strings.NewReader(body), "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	var snap jobs.Snapshot
	decode(t, resp, &snap)
	if snap.State != jobs.StateFailed || snap.Error == nil || snap.Error.Kind != faults.KindInput {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.OutputRef != "" {
		t.Fatalf("failed job carries output %q", snap.OutputRef)
	}
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	h := newHarness(t, jobs.ModeInline, nil)
	resp := h.do(t, http.MethodPost, "/api/jobs", "", strings.NewReader(`{"kind":"upscale"}`), "application/json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body api.ErrorResponse
	decode(t, resp, &body)
	if body.Kind != string(faults.KindInput) {
		t.Fatalf("error kind = %q", body.Kind)
	}
	counts, err := h.manager.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	for state, n := range counts {
		if n != 0 {
			t.Fatalf("found %d %s jobs after rejected submit", n, state)
		}
	}
}

func TestUnknownJobIsNotFound(t *testing.T) {
	h := newHarness(t, jobs.ModeInline, nil)
	if resp := h.do(t, http.MethodGet, "/api/jobs/nope", "", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if resp := h.do(t, http.MethodGet, "/api/jobs/nope/stream", "", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stream status = %d, want 404", resp.StatusCode)
	}
}

func TestQueuedSubmitStreamsEveryTransition(t *testing.T) {
	h := newHarness(t, jobs.ModeQueued, nil)
	up := h.upload(t, "")

	client, err := ipc.New(h.server.URL, ipc.Options{})
	if err != nil {
		t.Fatalf("ipc.New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := client.Submit(ctx, api.SubmitRequest{Kind: "background-removal", AssetID: up.AssetID})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if snap.State != jobs.StateQueued {
		t.Fatalf("queued submit returned %s", snap.State)
	}

	var (
		mu     sync.Mutex
		events []jobs.Snapshot
	)
	first := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := client.StreamJob(ctx, snap.JobID, func(s jobs.Snapshot) {
			mu.Lock()
			events = append(events, s)
			if len(events) == 1 {
				close(first)
			}
			mu.Unlock()
		})
		done <- err
	}()

	select {
	case <-first:
	case <-ctx.Done():
		t.Fatal("stream produced no initial event")
	}
	if _, err := h.manager.Run(ctx, h.queued.take(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("StreamJob: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []jobs.State{jobs.StateQueued, jobs.StateRunning, jobs.StateSucceeded}
	if len(events) != len(want) {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	for i, evt := range events {
		if evt.State != want[i] {
			t.Fatalf("event %d state = %s, want %s", i, evt.State, want[i])
		}
		if i > 0 && evt.Sequence <= events[i-1].Sequence {
			t.Fatalf("sequence did not increase: %+v", events)
		}
	}
}

func TestStreamOfFinishedJobClosesAfterOneEvent(t *testing.T) {
	h := newHarness(t, jobs.ModeInline, nil)
	up := h.upload(t, "")
	body := `{"kind":"bg","asset_id":"` + up.AssetID + `"}`
	resp := h.do(t, http.MethodPost, "/api/jobs", "", strings.NewReader(body), "application/json")
	var snap jobs.Snapshot
	decode(t, resp, &snap)

	resp = h.do(t, http.MethodGet, "/api/jobs/"+snap.JobID+"/stream", "", nil, "")
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	text := string(raw)
	if strings.Count(text, "data: ") != 1 || !strings.HasPrefix(text, "id: ") {
		t.Fatalf("unexpected stream body %q", text)
	}
}

func TestStylesCreateListAndReference(t *testing.T) {
	h := newHarness(t, jobs.ModeInline, nil)
	payload, _ := json.Marshal(api.StyleCreateRequest{
		Name:      "Flat Pastel",
		Rules:     "Soft flat colors.",
		Reference: base64.StdEncoding.EncodeToString(testsupport.SubjectPNG(t)),
	})

	resp := h.do(t, http.MethodPost, "/api/styles", "", bytes.NewReader(payload), "application/json")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var style store.Style
	decode(t, resp, &style)
	if style.ID != "flat-pastel" {
		t.Fatalf("style id = %q", style.ID)
	}

	if resp := h.do(t, http.MethodPost, "/api/styles", "", bytes.NewReader(payload), "application/json"); resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.StatusCode)
	}

	bad, _ := json.Marshal(api.StyleCreateRequest{Name: "Broken", Reference: "!!!"})
	if resp := h.do(t, http.MethodPost, "/api/styles", "", bytes.NewReader(bad), "application/json"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad base64 status = %d, want 400", resp.StatusCode)
	}

	resp = h.do(t, http.MethodGet, "/api/styles", "", nil, "")
	var list api.StyleListResponse
	decode(t, resp, &list)
	if len(list.Styles) != 1 || list.Styles[0].ID != "flat-pastel" {
		t.Fatalf("unexpected styles %+v", list.Styles)
	}

	resp = h.do(t, http.MethodGet, "/api/styles/flat-pastel/reference", "carol", nil, "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("reference status=%d type=%q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if resp := h.do(t, http.MethodGet, "/api/styles/unknown/reference", "", nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown style status = %d", resp.StatusCode)
	}
}

func TestLogsEndpointReadsStreamHub(t *testing.T) {
	hub := logging.NewStreamHub(16)
	hub.Publish(logging.LogEvent{Message: "started", Component: "daemon"})
	hub.Publish(logging.LogEvent{Message: "job done", Component: "jobs", JobID: "j1"})
	h := newHarness(t, jobs.ModeInline, func(d *api.Deps) { d.Logs = hub })

	client, err := ipc.New(h.server.URL, ipc.Options{})
	if err != nil {
		t.Fatalf("ipc.New: %v", err)
	}
	resp, err := client.Logs(context.Background(), ipc.LogQuery{})
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(resp.Events) != 2 || resp.Next == 0 {
		t.Fatalf("unexpected log response %+v", resp)
	}

	resp, err = client.Logs(context.Background(), ipc.LogQuery{JobID: "j1"})
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Message != "job done" {
		t.Fatalf("job filter returned %+v", resp.Events)
	}

	resp, err = client.Logs(context.Background(), ipc.LogQuery{Since: resp.Next})
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(resp.Events) != 0 {
		t.Fatalf("expected no events after cursor, got %+v", resp.Events)
	}
}
