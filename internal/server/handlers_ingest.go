package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/wire"
)

// HandleBatch handles POST /runs/batch: a JSON body {"post":[...],"patch":[...]}.
func (h *Handlers) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var req model.BatchRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeBodyError(w, r, err)
		return
	}
	h.ingest(w, r, wire.FromBatch(req))
}

// HandleMultipart handles POST /runs/multipart: the native part-per-field
// encoding.
func (h *Handlers) HandleMultipart(w http.ResponseWriter, r *http.Request) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" || params["boundary"] == "" {
		writeError(w, r, http.StatusUnsupportedMediaType, model.ErrCodeInvalidInput,
			"content type must be multipart/form-data with a boundary")
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)
	parts, err := wire.ReadMultipart(multipart.NewReader(body, params["boundary"]), h.maxPartBytes)
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, wire.ErrPartTooLarge):
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeTooLarge, err.Error())
		case errors.As(err, &maxErr):
			writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		case errors.Is(err, io.ErrUnexpectedEOF):
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "truncated multipart body")
		default:
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid multipart body: "+err.Error())
		}
		return
	}
	h.ingest(w, r, parts)
}

func (h *Handlers) ingest(w http.ResponseWriter, r *http.Request, parts []wire.Part) {
	system := SystemFromContext(r.Context())
	resp := h.ingestSvc.Ingest(r.Context(), system, parts)

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("kansoku.system", system),
		attribute.Int("kansoku.ingest.parts", len(parts)),
		attribute.Int("kansoku.ingest.accepted", len(resp.Accepted)),
		attribute.Int("kansoku.ingest.errors", len(resp.Errors)),
	)

	if !resp.Success {
		h.logger.Warn("ingest: batch had failures",
			"system", system,
			"accepted", len(resp.Accepted),
			"errors", len(resp.Errors),
			"request_id", RequestIDFromContext(r.Context()))
	}
	// Per-record failures do not fail the request; the body says what landed.
	writeJSON(w, r, http.StatusOK, resp)
}
