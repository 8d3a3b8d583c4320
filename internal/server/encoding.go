package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/ashita-ai/kansoku/internal/model"
)

// maxZstdWindow bounds decoder memory per request.
const maxZstdWindow = 8 << 20

// decompressMiddleware replaces r.Body with a decoding reader when the request
// carries Content-Encoding zstd or gzip. Body limits applied downstream then
// count decompressed bytes.
func decompressMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encoding := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding")))

		var body io.ReadCloser
		switch encoding {
		case "", "identity":
			next.ServeHTTP(w, r)
			return
		case "zstd":
			d, err := zstd.NewReader(r.Body,
				zstd.WithDecoderConcurrency(1),
				zstd.WithDecoderMaxWindow(maxZstdWindow),
			)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid zstd body")
				return
			}
			body = d.IOReadCloser()
		case "gzip":
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid gzip body")
				return
			}
			body = zr
		default:
			writeError(w, r, http.StatusUnsupportedMediaType, model.ErrCodeInvalidInput,
				fmt.Sprintf("unsupported content encoding %q (want zstd or gzip)", encoding))
			return
		}
		defer func() { _ = body.Close() }()

		r.Body = body
		r.Header.Del("Content-Encoding")
		r.ContentLength = -1
		next.ServeHTTP(w, r)
	})
}
