// Package wire decodes the run ingestion protocol.
//
// A batch is a set of named parts. Each part name has the form
//
//	operation "." runId ["." fieldPath]
//
// where operation is post, patch, feedback or attachment. post.<runId> and
// patch.<runId> carry a JSON object; post.<runId>.<field> and
// patch.<runId>.<field> carry a single JSON value that overrides that field
// (a dotted path sets a nested key). Field parts are always applied after
// their base object no matter where they appear in the batch, so Decode
// buffers and groups every part before producing operations.
//
// A field part whose base is missing from the batch still applies, as an
// implicit patch: streaming producers send partial values across requests.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashita-ai/kansoku/internal/model"
)

// Part is one named section of a batch.
type Part struct {
	Name        string
	ContentType string
	Filename    string
	Data        []byte
}

// Attachment is the content of an attachment part.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Operation is one logical store call produced from one or more parts.
type Operation struct {
	Kind  string // model.OpPost, OpPatch, OpFeedback or OpAttachment
	RunID string

	// Fields is set for post and patch.
	Fields model.RunFields
	// Implicit marks a patch synthesized from field parts with no base.
	Implicit bool
	// Field and Value are set on an implicit patch made of one top-level
	// field part, which the store applies through its single-field path.
	Field string
	Value json.RawMessage

	Feedback   *model.FeedbackPayload
	Attachment *Attachment

	// Parts lists the part names merged into this operation.
	Parts []string
}

// DecodeError reports a part or operation that could not be decoded. It is
// always per-record: the rest of the batch still decodes.
type DecodeError struct {
	Part      string
	Operation string
	RunID     string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wire: part %q: %v", e.Part, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var (
	// ErrPartName is wrapped by DecodeErrors for malformed part names.
	ErrPartName = errors.New("malformed part name")
	// ErrInvalidJSON is wrapped by DecodeErrors for unparseable payloads.
	ErrInvalidJSON = errors.New("invalid JSON")
	// ErrUnknownField is wrapped by DecodeErrors for field parts that do not
	// name a run field.
	ErrUnknownField = errors.New("unknown run field")
	// ErrPartTooLarge is returned by ReadMultipart when a part exceeds the
	// configured limit.
	ErrPartTooLarge = errors.New("wire: part too large")
)

type partName struct {
	op        string
	runID     string
	fieldPath string
}

func parsePartName(name string) (partName, error) {
	pieces := strings.SplitN(name, ".", 3)
	if len(pieces) < 2 {
		return partName{}, fmt.Errorf("%w: expected operation.runId", ErrPartName)
	}
	pn := partName{op: pieces[0], runID: pieces[1]}
	if len(pieces) == 3 {
		pn.fieldPath = pieces[2]
		if pn.fieldPath == "" {
			return partName{}, fmt.Errorf("%w: empty field path", ErrPartName)
		}
	}
	switch pn.op {
	case model.OpPost, model.OpPatch, model.OpFeedback, model.OpAttachment:
	default:
		return partName{}, fmt.Errorf("%w: unknown operation %q", ErrPartName, pn.op)
	}
	if pn.runID == "" {
		return partName{}, fmt.Errorf("%w: empty run id", ErrPartName)
	}
	return pn, nil
}

// setPath assigns value at a dotted path inside obj, creating intermediate
// objects as needed.
func setPath(obj map[string]json.RawMessage, path string, value json.RawMessage) error {
	key, rest, nested := strings.Cut(path, ".")
	if !nested {
		obj[key] = value
		return nil
	}
	child := map[string]json.RawMessage{}
	if raw, ok := obj[key]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &child); err != nil {
			return fmt.Errorf("field %q is not an object", key)
		}
	}
	if err := setPath(child, rest, value); err != nil {
		return err
	}
	encoded, err := json.Marshal(child)
	if err != nil {
		return err
	}
	obj[key] = encoded
	return nil
}
