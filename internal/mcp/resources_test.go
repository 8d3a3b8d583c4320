package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTraceURI(t *testing.T) {
	tests := []struct {
		name      string
		uri       string
		wantID    string
		wantError bool
	}{
		{name: "simple id", uri: "kansoku://trace/T1", wantID: "T1"},
		{name: "uuid", uri: "kansoku://trace/2f0c7a4e-9c1d-4f7e-8a60-0d1b9e0b2c11", wantID: "2f0c7a4e-9c1d-4f7e-8a60-0d1b9e0b2c11"},
		{name: "empty id", uri: "kansoku://trace/", wantError: true},
		{name: "nested path", uri: "kansoku://trace/T1/runs", wantError: true},
		{name: "wrong prefix", uri: "other://trace/T1", wantError: true},
		{name: "empty string", uri: "", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := parseTraceURI(tt.uri)
			if tt.wantError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid trace URI")
				assert.Empty(t, id)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func readText(t *testing.T, contents []mcplib.ResourceContents) string {
	t.Helper()
	require.Len(t, contents, 1)
	tc, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "application/json", tc.MIMEType)
	return tc.Text
}

func TestResources(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	contents, err := srv.handleSystemsResource(ctx, mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	var systems []string
	require.NoError(t, json.Unmarshal([]byte(readText(t, contents)), &systems))
	assert.Equal(t, []string{"alpha", "beta"}, systems)

	contents, err = srv.handleThreadsResource(ctx, mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	assert.Contains(t, readText(t, contents), `"thread_id": "C1"`)

	req := mcplib.ReadResourceRequest{}
	req.Params.URI = "kansoku://trace/T1"
	contents, err = srv.handleTraceResource(ctx, req)
	require.NoError(t, err)
	var trace struct {
		TraceID string           `json:"trace_id"`
		Runs    []map[string]any `json:"runs"`
	}
	require.NoError(t, json.Unmarshal([]byte(readText(t, contents)), &trace))
	assert.Equal(t, "T1", trace.TraceID)
	assert.Len(t, trace.Runs, 2)

	req.Params.URI = "kansoku://trace/"
	_, err = srv.handleTraceResource(ctx, req)
	assert.Error(t, err)
}
