package query_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/service/query"
	"github.com/ashita-ai/kansoku/internal/testutil"
	"github.com/ashita-ai/kansoku/internal/tracestore"
)

func ptr[T any](v T) *T { return &v }

func TestEmptyResultsAreEmptySlices(t *testing.T) {
	store, err := tracestore.New(context.Background(), testutil.NewSQLite(t), testutil.TestLogger())
	require.NoError(t, err)
	svc := query.New(store)
	ctx := context.Background()

	traces, err := svc.Traces(ctx, "")
	require.NoError(t, err)
	assert.NotNil(t, traces)
	assert.Empty(t, traces)

	runs, err := svc.TraceRuns(ctx, "nope")
	require.NoError(t, err)
	assert.NotNil(t, runs)

	threads, err := svc.ThreadOverviews(ctx)
	require.NoError(t, err)
	assert.NotNil(t, threads)

	_, err = svc.Run(ctx, "nope")
	assert.ErrorIs(t, err, tracestore.ErrNotFound)
}

func TestTracesFilterBySystem(t *testing.T) {
	store, err := tracestore.New(context.Background(), testutil.NewSQLite(t), testutil.TestLogger())
	require.NoError(t, err)
	ctx := context.Background()
	_, err = store.CreateRun(ctx, model.RunFields{ID: "a", TraceID: ptr("A"), System: ptr("alpha")})
	require.NoError(t, err)
	_, err = store.CreateRun(ctx, model.RunFields{ID: "b", TraceID: ptr("B"), System: ptr("beta")})
	require.NoError(t, err)

	svc := query.New(store)
	all, err := svc.Traces(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	beta, err := svc.Traces(ctx, "beta")
	require.NoError(t, err)
	require.Len(t, beta, 1)
	assert.Equal(t, "B", beta[0].TraceID)

	systems, err := svc.Systems(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, systems)
}

type nilStore struct {
	query.Store
	err error
}

func (n nilStore) GetAllSystems(context.Context) ([]string, error) { return nil, n.err }

func TestNilBecomesEmptyAndErrorsPass(t *testing.T) {
	systems, err := query.New(nilStore{}).Systems(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{}, systems)

	boom := errors.New("boom")
	_, err = query.New(nilStore{err: boom}).Systems(context.Background())
	assert.ErrorIs(t, err, boom)
}
