package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashita-ai/kansoku/internal/model"
)

// Result is the outcome of decoding one batch.
type Result struct {
	// Operations are ordered posts, patches, feedback, attachments; within
	// each class they keep the order their first part arrived in.
	Operations []Operation
	Errors     []*DecodeError
}

type fieldPart struct {
	name  string
	path  string
	value json.RawMessage
}

type runGroup struct {
	op      string
	runID   string
	base    map[string]json.RawMessage
	hasBase bool
	fields  []fieldPart
	parts   []string
}

type groupKey struct {
	op    string
	runID string
}

// Decode groups parts by (operation, runId) and merges each post/patch group
// into a single operation. Malformed parts are reported and excluded without
// affecting the others.
func Decode(parts []Part) Result {
	var (
		res         Result
		groups      = map[groupKey]*runGroup{}
		order       []groupKey
		feedback    []Operation
		attachments []Operation
	)

	fail := func(name, op, runID string, err error) {
		res.Errors = append(res.Errors, &DecodeError{Part: name, Operation: op, RunID: runID, Err: err})
	}

	for _, p := range parts {
		pn, err := parsePartName(p.Name)
		if err != nil {
			fail(p.Name, "", "", err)
			continue
		}

		switch pn.op {
		case model.OpPost, model.OpPatch:
			key := groupKey{op: pn.op, runID: pn.runID}
			g, ok := groups[key]
			if !ok {
				g = &runGroup{op: pn.op, runID: pn.runID}
				groups[key] = g
				order = append(order, key)
			}
			if pn.fieldPath == "" {
				var obj map[string]json.RawMessage
				if err := json.Unmarshal(p.Data, &obj); err != nil || obj == nil {
					fail(p.Name, pn.op, pn.runID, fmt.Errorf("%w: expected a JSON object", ErrInvalidJSON))
					continue
				}
				g.base = obj
				g.hasBase = true
			} else {
				root, _, _ := strings.Cut(pn.fieldPath, ".")
				if root == model.FieldID {
					fail(p.Name, pn.op, pn.runID, fmt.Errorf("%w: the run id comes from the part name", ErrUnknownField))
					continue
				}
				if !model.IsRunField(root) {
					fail(p.Name, pn.op, pn.runID, fmt.Errorf("%w: %q", ErrUnknownField, root))
					continue
				}
				if !json.Valid(p.Data) {
					fail(p.Name, pn.op, pn.runID, ErrInvalidJSON)
					continue
				}
				g.fields = append(g.fields, fieldPart{name: p.Name, path: pn.fieldPath, value: p.Data})
			}
			g.parts = append(g.parts, p.Name)

		case model.OpFeedback:
			if pn.fieldPath != "" {
				fail(p.Name, pn.op, pn.runID, fmt.Errorf("%w: feedback takes no field path", ErrPartName))
				continue
			}
			var fb model.FeedbackPayload
			if err := json.Unmarshal(p.Data, &fb); err != nil {
				fail(p.Name, pn.op, pn.runID, fmt.Errorf("%w: %v", ErrInvalidJSON, err))
				continue
			}
			if fb.TraceID == "" {
				fail(p.Name, pn.op, pn.runID, errors.New("feedback requires trace_id"))
				continue
			}
			feedback = append(feedback, Operation{
				Kind:     model.OpFeedback,
				RunID:    pn.runID,
				Feedback: &fb,
				Parts:    []string{p.Name},
			})

		case model.OpAttachment:
			filename := pn.fieldPath
			if filename == "" {
				filename = p.Filename
			}
			if filename == "" {
				fail(p.Name, pn.op, pn.runID, fmt.Errorf("%w: attachment requires a filename", ErrPartName))
				continue
			}
			contentType := p.ContentType
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			attachments = append(attachments, Operation{
				Kind:  model.OpAttachment,
				RunID: pn.runID,
				Attachment: &Attachment{
					Filename:    filename,
					ContentType: contentType,
					Data:        p.Data,
				},
				Parts: []string{p.Name},
			})
		}
	}

	var posts, patches []Operation
	for _, key := range order {
		g := groups[key]
		if len(g.parts) == 0 {
			continue // every part of the group was rejected
		}
		op, derr := g.merge()
		if derr != nil {
			res.Errors = append(res.Errors, derr)
			continue
		}
		if op.Kind == model.OpPost {
			posts = append(posts, op)
		} else {
			patches = append(patches, op)
		}
	}

	res.Operations = make([]Operation, 0, len(posts)+len(patches)+len(feedback)+len(attachments))
	res.Operations = append(res.Operations, posts...)
	res.Operations = append(res.Operations, patches...)
	res.Operations = append(res.Operations, feedback...)
	res.Operations = append(res.Operations, attachments...)
	return res
}

// merge applies the group's field parts over its base object and converts
// the result into RunFields.
func (g *runGroup) merge() (Operation, *DecodeError) {
	obj := g.base
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	for _, f := range g.fields {
		if err := setPath(obj, f.path, f.value); err != nil {
			return Operation{}, &DecodeError{Part: f.name, Operation: g.op, RunID: g.runID, Err: err}
		}
	}
	obj[model.FieldID] = mustQuote(g.runID)

	fields, err := model.ParseRunFields(obj)
	if err != nil {
		return Operation{}, &DecodeError{Part: g.op + "." + g.runID, Operation: g.op, RunID: g.runID, Err: err}
	}

	op := Operation{Kind: g.op, RunID: g.runID, Fields: fields, Parts: g.parts}
	if !g.hasBase {
		op.Kind = model.OpPatch
		op.Implicit = true
		if len(g.fields) == 1 && !strings.Contains(g.fields[0].path, ".") {
			op.Field = g.fields[0].path
			op.Value = g.fields[0].value
		}
	}
	return op, nil
}

func mustQuote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
