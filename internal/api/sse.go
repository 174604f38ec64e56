package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/jacquesio/jacques/internal/archive"
	"github.com/jacquesio/jacques/internal/errs"
)

// sseWriter emits server-sent events on a flushed response.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, true
}

func (s *sseWriter) event(name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data)
	s.f.Flush()
}

// handleInitialize runs the full extract+archive+index pass, streaming
// progress. POST /api/archive/initialize?force=1 re-extracts everything.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			s.fail(w, errs.Newf(errs.Parse, "api.handleInitialize", "invalid force %q", v))
			return
		}
		force = parsed
	}
	s.streamArchiveOp(w, func(progress archive.ProgressFunc) (archive.InitStats, error) {
		return s.deps.Archive.Initialize(r.Context(), force, progress)
	})
}

// handleReindex rebuilds the keyword index from the archived manifests.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	s.streamArchiveOp(w, func(progress archive.ProgressFunc) (archive.InitStats, error) {
		return s.deps.Archive.Reindex(r.Context(), progress)
	})
}

func (s *Server) streamArchiveOp(w http.ResponseWriter, run func(archive.ProgressFunc) (archive.InitStats, error)) {
	if !s.archiveMu.TryLock() {
		s.fail(w, errs.New(errs.Conflict, "api.streamArchiveOp", "archive operation already running"))
		return
	}
	defer s.archiveMu.Unlock()

	sse, ok := newSSEWriter(w)
	if !ok {
		s.fail(w, errs.New(errs.IO, "api.streamArchiveOp", "response does not support streaming"))
		return
	}

	stats, err := run(func(p archive.Progress) {
		sse.event("progress", p)
	})
	if err != nil {
		s.log.Error("archive operation failed", "error", err)
		sse.event("error", errorBody{Error: reasonFor(statusFor(errs.KindOf(err))), Detail: err.Error()})
		return
	}
	sse.event("complete", stats)
}
