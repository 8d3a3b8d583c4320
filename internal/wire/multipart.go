package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/kansoku/internal/model"
)

// ReadMultipart buffers every part of r. A part larger than maxPartBytes
// fails the whole read with ErrPartTooLarge; maxPartBytes <= 0 disables the
// limit.
func ReadMultipart(r *multipart.Reader, maxPartBytes int64) ([]Part, error) {
	var parts []Part
	for {
		p, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			return parts, nil
		}
		if err != nil {
			return nil, fmt.Errorf("wire: read part: %w", err)
		}

		var src io.Reader = p
		if maxPartBytes > 0 {
			src = io.LimitReader(p, maxPartBytes+1)
		}
		data, err := io.ReadAll(src)
		_ = p.Close()
		if err != nil {
			return nil, fmt.Errorf("wire: read part %q: %w", p.FormName(), err)
		}
		if maxPartBytes > 0 && int64(len(data)) > maxPartBytes {
			return nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrPartTooLarge, p.FormName(), maxPartBytes)
		}

		parts = append(parts, Part{
			Name:        p.FormName(),
			ContentType: p.Header.Get("Content-Type"),
			Filename:    p.FileName(),
			Data:        data,
		})
	}
}

// FromBatch re-expresses a JSON batch as parts so both ingestion paths share
// Decode. Post entries without an id are assigned one; patch entries without
// an id produce a part Decode rejects.
func FromBatch(req model.BatchRequest) []Part {
	parts := make([]Part, 0, len(req.Post)+len(req.Patch))
	for _, obj := range req.Post {
		id := entryID(obj)
		if id == "" {
			id = uuid.NewString()
		}
		parts = append(parts, jsonPart(model.OpPost+"."+id, obj))
	}
	for _, obj := range req.Patch {
		parts = append(parts, jsonPart(model.OpPatch+"."+entryID(obj), obj))
	}
	return parts
}

func entryID(obj map[string]json.RawMessage) string {
	raw, ok := obj[model.FieldID]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func jsonPart(name string, obj map[string]json.RawMessage) Part {
	// Marshal of already-parsed raw messages cannot fail.
	data, _ := json.Marshal(obj)
	return Part{Name: name, ContentType: "application/json", Data: data}
}

// WriteMultipart encodes parts with w. Producers and tests use it to build
// native multipart bodies.
func WriteMultipart(w *multipart.Writer, parts []Part) error {
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		disposition := fmt.Sprintf(`form-data; name="%s"`, escapeQuotes(p.Name))
		if p.Filename != "" {
			disposition += fmt.Sprintf(`; filename="%s"`, escapeQuotes(p.Filename))
		}
		h.Set("Content-Disposition", disposition)
		contentType := p.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		h.Set("Content-Type", contentType)

		pw, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("wire: create part %q: %w", p.Name, err)
		}
		if _, err := pw.Write(p.Data); err != nil {
			return fmt.Errorf("wire: write part %q: %w", p.Name, err)
		}
	}
	return w.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
