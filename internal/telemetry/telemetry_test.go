package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestInitDisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "kansoku", Version: "test"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	// Global no-op providers still hand out usable instruments.
	counter, err := Meter("kansoku/test").Int64Counter("test.count")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
	_, span := Tracer("kansoku/test").Start(context.Background(), "noop")
	span.End()
}

func TestResourceDescribesDeployment(t *testing.T) {
	res, err := newResource(context.Background(), Config{
		ServiceName:    "kansoku",
		Version:        "1.2.3",
		StorageDialect: "postgres",
		Attachments:    true,
	})
	require.NoError(t, err)
	set := res.Set()

	name, ok := set.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "kansoku", name.AsString())

	version, ok := set.Value(semconv.ServiceVersionKey)
	require.True(t, ok)
	assert.Equal(t, "1.2.3", version.AsString())

	dialect, ok := set.Value(StorageDialectKey)
	require.True(t, ok)
	assert.Equal(t, "postgres", dialect.AsString())

	attachments, ok := set.Value(AttachmentsKey)
	require.True(t, ok)
	assert.True(t, attachments.AsBool())
}

func TestResourceOmitsUnknownDialect(t *testing.T) {
	res, err := newResource(context.Background(), Config{ServiceName: "kansoku", Version: "dev"})
	require.NoError(t, err)

	_, ok := res.Set().Value(StorageDialectKey)
	assert.False(t, ok)
	attachments, ok := res.Set().Value(AttachmentsKey)
	require.True(t, ok)
	assert.False(t, attachments.AsBool())
}
