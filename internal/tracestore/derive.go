package tracestore

import (
	"encoding/json"

	"github.com/ashita-ai/kansoku/internal/model"
)

// threadKeys are looked up in extra.metadata, in priority order.
var threadKeys = []string{"thread_id", "session_id", "conversation_id"}

// deriveThreadID returns extra.metadata.thread_id (or a fallback key) when
// present. Malformed JSON yields nil: a bad extra blob is "no value", never
// an error.
func deriveThreadID(extra json.RawMessage) *string {
	if len(extra) == 0 {
		return nil
	}
	var e struct {
		Metadata map[string]json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(extra, &e); err != nil {
		return nil
	}
	for _, key := range threadKeys {
		raw, ok := e.Metadata[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return &s
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			v := n.String()
			return &v
		}
	}
	return nil
}

// totalTokens reads outputs.llmOutput.tokenUsage.totalTokens, falling back to
// the snake_case spelling some producers emit. Missing, malformed or
// out-of-range data counts as zero.
func totalTokens(outputs json.RawMessage) int64 {
	if len(outputs) == 0 {
		return 0
	}
	var o map[string]any
	if err := json.Unmarshal(outputs, &o); err != nil {
		return 0
	}
	if n, ok := lookupNumber(o, "llmOutput", "tokenUsage", "totalTokens"); ok {
		return n
	}
	if n, ok := lookupNumber(o, "llm_output", "token_usage", "total_tokens"); ok {
		return n
	}
	return 0
}

func lookupNumber(m map[string]any, path ...string) (int64, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return 0, false
		}
		if cur, ok = obj[key]; !ok {
			return 0, false
		}
	}
	f, ok := cur.(float64)
	if !ok {
		return 0, false
	}
	return model.TokenCount(f)
}
