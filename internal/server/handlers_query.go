package server

import (
	"errors"
	"net/http"

	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/tracestore"
)

// HandleListTraces handles GET /trace, optionally filtered by ?system=.
func (h *Handlers) HandleListTraces(w http.ResponseWriter, r *http.Request) {
	traces, err := h.querySvc.Traces(r.Context(), r.URL.Query().Get("system"))
	h.respond(w, r, traces, err, "failed to list traces")
}

// HandleTraceRuns handles GET /trace/{traceId}.
func (h *Handlers) HandleTraceRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.querySvc.TraceRuns(r.Context(), r.PathValue("traceId"))
	h.respond(w, r, runs, err, "failed to get trace")
}

// HandleSystemRuns handles GET /trace/system/{system}.
func (h *Handlers) HandleSystemRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.querySvc.SystemRuns(r.Context(), r.PathValue("system"))
	h.respond(w, r, runs, err, "failed to list system runs")
}

// HandleThreadTraces handles GET /trace/thread/{threadId}/traces.
func (h *Handlers) HandleThreadTraces(w http.ResponseWriter, r *http.Request) {
	traces, err := h.querySvc.ThreadTraces(r.Context(), r.PathValue("threadId"))
	h.respond(w, r, traces, err, "failed to list thread traces")
}

// HandleThreadRuns handles GET /trace/thread/{threadId}/runs.
func (h *Handlers) HandleThreadRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.querySvc.ThreadRuns(r.Context(), r.PathValue("threadId"))
	h.respond(w, r, runs, err, "failed to list thread runs")
}

// HandleThreadOverviews handles GET /trace/threads/overview.
func (h *Handlers) HandleThreadOverviews(w http.ResponseWriter, r *http.Request) {
	threads, err := h.querySvc.ThreadOverviews(r.Context())
	h.respond(w, r, threads, err, "failed to list threads")
}

// HandleSystems handles GET /trace/systems.
func (h *Handlers) HandleSystems(w http.ResponseWriter, r *http.Request) {
	systems, err := h.querySvc.Systems(r.Context())
	h.respond(w, r, systems, err, "failed to list systems")
}

// HandleThreadIDs handles GET /trace/threads.
func (h *Handlers) HandleThreadIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := h.querySvc.ThreadIDs(r.Context())
	h.respond(w, r, ids, err, "failed to list thread ids")
}

// HandleGetRun handles GET /runs/{runId}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.querySvc.Run(r.Context(), r.PathValue("runId"))
	if errors.Is(err, tracestore.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
		return
	}
	h.respond(w, r, run, err, "failed to get run")
}

// HandleRunFeedback handles GET /runs/{runId}/feedback.
func (h *Handlers) HandleRunFeedback(w http.ResponseWriter, r *http.Request) {
	fb, err := h.querySvc.RunFeedback(r.Context(), r.PathValue("runId"))
	h.respond(w, r, fb, err, "failed to list feedback")
}

// HandleRunAttachments handles GET /runs/{runId}/attachments.
func (h *Handlers) HandleRunAttachments(w http.ResponseWriter, r *http.Request) {
	atts, err := h.querySvc.RunAttachments(r.Context(), r.PathValue("runId"))
	h.respond(w, r, atts, err, "failed to list attachments")
}

func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, data any, err error, msg string) {
	if err != nil {
		h.writeInternalError(w, r, msg, err)
		return
	}
	writeJSON(w, r, http.StatusOK, data)
}
