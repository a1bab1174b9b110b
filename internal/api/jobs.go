package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ivg/internal/faults"
	"ivg/internal/jobs"
	"ivg/internal/logging"
)

const maxJSONBody = 1 << 20

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, faults.Input("invalid request body", err))
		return
	}
	kind, ok := jobs.ParseKind(strings.TrimSpace(req.Kind))
	if !ok {
		kind = jobs.Kind(req.Kind)
	}

	if s.deps.Mode == jobs.ModeInline {
		// The request lasts as long as the job.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	}
	snap, err := s.deps.Jobs.Submit(r.Context(), ownerFrom(r), kind, jobs.Input{
		AssetID:  req.AssetID,
		StyleID:  req.StyleID,
		Prompt:   req.Prompt,
		FastMode: req.FastMode,
	}, s.deps.Mode)
	if err != nil {
		s.writeError(w, 0, err)
		return
	}
	status := http.StatusAccepted
	if snap.State.Terminal() {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/api/jobs/"+snap.JobID)
	s.writeJSON(w, status, snap)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Jobs.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, 0, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleJobStream writes job snapshots as server-sent events until the job
// is terminal, the client goes away, or no event arrives within the idle
// timeout.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	seq, err := s.deps.Jobs.Subscribe(ctx, id)
	if err != nil {
		s.writeError(w, 0, err)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	idle := time.AfterFunc(s.deps.StreamIdleTimeout, cancel)
	defer idle.Stop()

	for snap := range seq {
		idle.Reset(s.deps.StreamIdleTimeout)
		if err := writeEvent(w, snap); err != nil {
			s.logger.Debug("job stream write failed", logging.String(logging.FieldJobID, id), logging.Error(err))
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, snap jobs.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", snap.Sequence, data)
	return err
}
