package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ivg/internal/logging"
)

// followWait bounds a long-poll so it finishes inside the server write timeout.
const followWait = 25 * time.Second

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	hub := s.deps.Logs
	if hub == nil {
		s.writeJSON(w, http.StatusOK, LogStreamResponse{})
		return
	}

	params := r.URL.Query()
	q := logging.Query{
		Component: strings.TrimSpace(params.Get("component")),
		JobID:     strings.TrimSpace(params.Get("job")),
	}
	q.Since, _ = strconv.ParseUint(params.Get("since"), 10, 64)
	q.Limit, _ = strconv.Atoi(params.Get("limit"))
	if q.Limit <= 0 {
		q.Limit = 200
	}
	follow := truthy(params.Get("follow"))

	var resp LogStreamResponse
	if truthy(params.Get("tail")) && q.Since == 0 && !follow {
		resp.Events, resp.Next = hub.Tail(q)
	} else {
		ctx := r.Context()
		if follow {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, followWait)
			defer cancel()
		}
		events, next, err := hub.Fetch(ctx, q, follow)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Events, resp.Next = events, next
	}
	if resp.Events == nil {
		resp.Events = []logging.LogEvent{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func truthy(value string) bool {
	return value == "1" || strings.EqualFold(value, "true")
}
