package tracestore_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/storage"
	"github.com/ashita-ai/kansoku/internal/testutil"
	"github.com/ashita-ai/kansoku/internal/tracestore"
)

var pg *testutil.TestContainer

func TestMain(m *testing.M) {
	tc, err := testutil.StartPostgres()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracestore tests: postgres disabled: %v\n", err)
	} else {
		pg = tc
	}
	code := m.Run()
	if pg != nil {
		pg.Terminate()
	}
	os.Exit(code)
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// eachAdapter runs fn against a fresh SQLite store and, when Docker is
// available, a fresh Postgres store.
func eachAdapter(t *testing.T, fn func(t *testing.T, s *tracestore.Store, c *clock)) {
	t.Helper()
	eachAdapterDB(t, func(t *testing.T, s *tracestore.Store, _ storage.Adapter, c *clock) {
		fn(t, s, c)
	})
}

// eachAdapterDB is eachAdapter with access to the raw adapter.
func eachAdapterDB(t *testing.T, fn func(t *testing.T, s *tracestore.Store, db storage.Adapter, c *clock)) {
	t.Helper()
	open := map[string]func(t *testing.T) storage.Adapter{
		"sqlite":   func(t *testing.T) storage.Adapter { return testutil.NewSQLite(t) },
		"postgres": func(t *testing.T) storage.Adapter { return testutil.RequirePostgres(t, pg) },
	}
	for _, name := range []string{"sqlite", "postgres"} {
		t.Run(name, func(t *testing.T) {
			c := newClock()
			db := open[name](t)
			s, err := tracestore.New(context.Background(), db, testutil.TestLogger(), tracestore.WithClock(c.Now))
			require.NoError(t, err)
			fn(t, s, db, c)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func fields(t *testing.T, js string) model.RunFields {
	t.Helper()
	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(js), &obj))
	f, err := model.ParseRunFields(obj)
	require.NoError(t, err)
	return f
}

func TestNewIsIdempotent(t *testing.T) {
	db := testutil.NewSQLite(t)
	ctx := context.Background()
	_, err := tracestore.New(ctx, db, testutil.TestLogger())
	require.NoError(t, err)
	_, err = tracestore.New(ctx, db, testutil.TestLogger())
	require.NoError(t, err)
}

func TestCreateRunAssignsID(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, _ *clock) {
		run, err := s.CreateRun(context.Background(), fields(t, `{"name":"root","run_type":"chain"}`))
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, "root", run.Name)
		assert.Equal(t, "chain", run.RunType)
		assert.Equal(t, int64(0), run.TotalTokens)
	})
}

func TestCreateRunRepeatedIDUpdatesInPlace(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, c *clock) {
		ctx := context.Background()
		first, err := s.CreateRun(ctx, fields(t, `{"id":"R1","trace_id":"X","name":"first","inputs":{"q":1}}`))
		require.NoError(t, err)

		c.Advance(time.Minute)
		second, err := s.CreateRun(ctx, fields(t, `{"id":"R1","trace_id":"X","name":"second"}`))
		require.NoError(t, err)

		assert.Equal(t, first.CreatedAt, second.CreatedAt)
		assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
		assert.Equal(t, "second", second.Name)
		assert.JSONEq(t, `{"q":1}`, string(second.Inputs), "absent fields keep stored values")

		runs, err := s.GetRunsByTraceID(ctx, "X")
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	})
}

func TestTotalTokensFollowOutputs(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, _ *clock) {
		ctx := context.Background()
		_, err := s.CreateRun(ctx, fields(t, `{"id":"R1"}`))
		require.NoError(t, err)

		_, err = s.UpdateRun(ctx, "R1", fields(t, `{"outputs":{"llmOutput":{"tokenUsage":{"totalTokens":42}}}}`))
		require.NoError(t, err)
		run, err := s.GetRun(ctx, "R1")
		require.NoError(t, err)
		assert.Equal(t, int64(42), run.TotalTokens)

		_, err = s.UpdateRun(ctx, "R1", fields(t, `{"outputs":{"text":"done"}}`))
		require.NoError(t, err)
		run, err = s.GetRun(ctx, "R1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), run.TotalTokens)
	})
}

func TestTotalTokensSnakeCaseAndOverride(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, _ *clock) {
		ctx := context.Background()
		run, err := s.CreateRun(ctx, fields(t, `{"id":"R1","outputs":{"llm_output":{"token_usage":{"total_tokens":7}}}}`))
		require.NoError(t, err)
		assert.Equal(t, int64(7), run.TotalTokens)

		run, err = s.CreateRun(ctx, fields(t, `{"id":"R2","total_tokens":99,"outputs":{"llmOutput":{"tokenUsage":{"totalTokens":1}}}}`))
		require.NoError(t, err)
		assert.Equal(t, int64(99), run.TotalTokens)

		run, err = s.UpdateRunField(ctx, "R1", model.FieldOutputs, []byte(`{"llmOutput":{"tokenUsage":{"totalTokens":11}}}`))
		require.NoError(t, err)
		assert.Equal(t, int64(11), run.TotalTokens)
	})
}

func TestRepeatedPostWithoutOutputsKeepsTokens(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, _ *clock) {
		ctx := context.Background()
		_, err := s.CreateRun(ctx, fields(t, `{"id":"R1","outputs":{"llmOutput":{"tokenUsage":{"totalTokens":5}}}}`))
		require.NoError(t, err)
		run, err := s.CreateRun(ctx, fields(t, `{"id":"R1","name":"renamed"}`))
		require.NoError(t, err)
		assert.Equal(t, int64(5), run.TotalTokens)
	})
}

func TestThreadDerivedFromExtra(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, _ *clock) {
		ctx := context.Background()
		run, err := s.CreateRun(ctx, fields(t, `{"id":"R1","extra":{"metadata":{"thread_id":"T1"}}}`))
		require.NoError(t, err)
		require.NotNil(t, run.ThreadID)
		assert.Equal(t, "T1", *run.ThreadID)

		run, err = s.UpdateRun(ctx, "R1", fields(t, `{"extra":{"metadata":{"thread_id":"T2"}},"thread_id":"explicit"}`))
		require.NoError(t, err)
		require.NotNil(t, run.ThreadID)
		assert.Equal(t, "explicit", *run.ThreadID)

		run, err = s.UpdateRun(ctx, "R1", fields(t, `{"extra":{"metadata":{"session_id":"S9"}}}`))
		require.NoError(t, err)
		assert.Equal(t, "S9", *run.ThreadID, "re-derived from fallback key")

		run, err = s.UpdateRun(ctx, "R1", fields(t, `{"extra":{"other":true}}`))
		require.NoError(t, err)
		assert.Equal(t, "S9", *run.ThreadID, "no derived value leaves thread_id alone")
	})
}

func TestMalformedExtraIsNoValue(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, _ *clock) {
		run, err := s.CreateRun(context.Background(), model.RunFields{
			ID:      "R1",
			Extra:   json.RawMessage(`"just a string"`),
			Outputs: json.RawMessage(`[1,2,3]`),
		})
		require.NoError(t, err)
		assert.Nil(t, run.ThreadID)
		assert.Equal(t, int64(0), run.TotalTokens)
	})
}

func TestUpdateRunNotFound(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, _ *clock) {
		ctx := context.Background()
		_, err := s.UpdateRun(ctx, "missing", fields(t, `{"name":"x"}`))
		assert.ErrorIs(t, err, tracestore.ErrNotFound)

		_, err = s.UpdateRun(ctx, "missing", model.RunFields{})
		assert.ErrorIs(t, err, tracestore.ErrNotFound)

		_, err = s.GetRun(ctx, "missing")
		assert.ErrorIs(t, err, tracestore.ErrNotFound)
	})
}

func TestUpdateRunFieldRejectsUnknown(t *testing.T) {
	s, err := tracestore.New(context.Background(), testutil.NewSQLite(t), testutil.TestLogger())
	require.NoError(t, err)
	_, err = s.UpdateRunField(context.Background(), "R1", "bogus", []byte(`1`))
	assert.ErrorIs(t, err, tracestore.ErrUnknownField)
	_, err = s.UpdateRunField(context.Background(), "R1", model.FieldID, []byte(`"R2"`))
	assert.ErrorIs(t, err, tracestore.ErrUnknownField)
}

func TestTraceAggregates(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, c *clock) {
		ctx := context.Background()
		tokens := []int64{3, 10, 29}
		for i, n := range tokens {
			f := fields(t, fmt.Sprintf(`{"id":"R%d","trace_id":"X","run_type":"llm","system":"alpha",
				"start_time":"2026-03-01T10:00:0%dZ","end_time":"2026-03-01T10:00:1%dZ",
				"outputs":{"llmOutput":{"tokenUsage":{"totalTokens":%d}}}}`, i, i, i, n))
			if i == 0 {
				f.Name = ptr("root")
				f.RunType = ptr("chain")
			} else {
				f.ParentRunID = ptr("R0")
			}
			_, err := s.CreateRun(ctx, f)
			require.NoError(t, err)
			c.Advance(time.Second)
		}
		_, err := s.CreateRun(ctx, fields(t, `{"id":"other","trace_id":"Y","system":"beta"}`))
		require.NoError(t, err)

		_, err = s.CreateFeedback(ctx, "R1", model.FeedbackPayload{TraceID: "X", Score: ptr(0.5)})
		require.NoError(t, err)
		_, err = s.CreateAttachment(ctx, "R2", model.AttachmentMeta{Filename: "a.txt", ContentType: "text/plain", Size: 4})
		require.NoError(t, err)

		traces, err := s.GetAllTraces(ctx)
		require.NoError(t, err)
		require.Len(t, traces, 2)

		var x model.TraceOverview
		for _, tr := range traces {
			if tr.TraceID == "X" {
				x = tr
			}
		}
		assert.Equal(t, int64(3), x.TotalRuns)
		assert.Equal(t, int64(42), x.TotalTokensSum)
		assert.ElementsMatch(t, []string{"chain", "llm"}, x.RunTypes)
		assert.Equal(t, []string{"alpha"}, x.Systems)
		assert.Equal(t, int64(1), x.FeedbackCount)
		assert.Equal(t, int64(1), x.AttachmentCount)
		require.NotNil(t, x.Name)
		assert.Equal(t, "root", *x.Name)
		require.NotNil(t, x.StartTime)
		assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), *x.StartTime)
		require.NotNil(t, x.EndTime)
		assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 12, 0, time.UTC), *x.EndTime)

		byAlpha, err := s.GetTracesBySystem(ctx, "alpha")
		require.NoError(t, err)
		require.Len(t, byAlpha, 1)
		assert.Equal(t, "X", byAlpha[0].TraceID)

		none, err := s.GetTracesBySystem(ctx, "nobody")
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})
}

func TestThreadOverviewCountsDistinctTraces(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, _ *clock) {
		ctx := context.Background()
		for _, js := range []string{
			`{"id":"a1","trace_id":"A","thread_id":"T","run_type":"chain","outputs":{"llmOutput":{"tokenUsage":{"totalTokens":2}}}}`,
			`{"id":"a2","trace_id":"A","thread_id":"T","run_type":"llm"}`,
			`{"id":"b1","trace_id":"B","extra":{"metadata":{"thread_id":"T"}},"outputs":{"llmOutput":{"tokenUsage":{"totalTokens":3}}}}`,
			`{"id":"c1","trace_id":"C","thread_id":"U"}`,
		} {
			_, err := s.CreateRun(ctx, fields(t, js))
			require.NoError(t, err)
		}
		_, err := s.CreateFeedback(ctx, "b1", model.FeedbackPayload{TraceID: "B", Key: ptr("quality")})
		require.NoError(t, err)

		threads, err := s.GetThreadOverviews(ctx)
		require.NoError(t, err)
		require.Len(t, threads, 2)

		byID := map[string]model.ThreadOverview{}
		for _, th := range threads {
			byID[th.ThreadID] = th
		}
		assert.Equal(t, int64(2), byID["T"].TotalTraces)
		assert.Equal(t, int64(3), byID["T"].TotalRuns)
		assert.Equal(t, int64(5), byID["T"].TotalTokensSum)
		assert.Equal(t, int64(1), byID["T"].FeedbackCount)
		assert.Equal(t, int64(1), byID["U"].TotalTraces)

		inThread, err := s.GetTracesByThreadID(ctx, "T")
		require.NoError(t, err)
		ids := []string{}
		for _, tr := range inThread {
			ids = append(ids, tr.TraceID)
		}
		assert.ElementsMatch(t, []string{"A", "B"}, ids)

		runs, err := s.GetRunsByThreadID(ctx, "T")
		require.NoError(t, err)
		assert.Len(t, runs, 3)

		threadIDs, err := s.GetAllThreadIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"T", "U"}, threadIDs)
	})
}

func TestDistinctSystems(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, _ *clock) {
		ctx := context.Background()
		empty, err := s.GetAllSystems(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{}, empty)

		for i, sys := range []string{"beta", "alpha", "beta"} {
			_, err := s.CreateRun(ctx, model.RunFields{ID: fmt.Sprintf("R%d", i), System: ptr(sys)})
			require.NoError(t, err)
		}
		systems, err := s.GetAllSystems(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "beta"}, systems)

		runs, err := s.GetRunsBySystem(ctx, "beta")
		require.NoError(t, err)
		assert.Len(t, runs, 2)
	})
}

func TestFeedbackAndAttachmentListings(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, _ *clock) {
		ctx := context.Background()
		_, err := s.CreateRun(ctx, model.RunFields{ID: "R1", TraceID: ptr("X")})
		require.NoError(t, err)

		fb, err := s.CreateFeedback(ctx, "R1", model.FeedbackPayload{
			TraceID:  "X",
			Score:    ptr(1.0),
			Comment:  ptr("good"),
			Metadata: json.RawMessage(`{"by":"reviewer"}`),
		})
		require.NoError(t, err)
		assert.NotEmpty(t, fb.ID)
		assert.Equal(t, "X", fb.TraceID)

		list, err := s.GetFeedbackByRunID(ctx, "R1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, 1.0, *list[0].Score)
		assert.Equal(t, "good", *list[0].Comment)
		assert.JSONEq(t, `{"by":"reviewer"}`, string(list[0].Metadata))

		_, err = s.CreateAttachment(ctx, "R1", model.AttachmentMeta{Filename: "img.png", ContentType: "image/png", Size: 10, Location: "run/R1/img.png"})
		require.NoError(t, err)
		atts, err := s.GetAttachmentsByRunID(ctx, "R1")
		require.NoError(t, err)
		require.Len(t, atts, 1)
		assert.Equal(t, "run/R1/img.png", atts[0].Location)
		assert.Equal(t, int64(10), atts[0].Size)

		empty, err := s.GetAttachmentsByRunID(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestFeedbackForUnknownRunFails(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, _ *clock) {
		_, err := s.CreateFeedback(context.Background(), "ghost", model.FeedbackPayload{TraceID: "X"})
		assert.Error(t, err)
	})
}

type countingCounter struct {
	calls int
}

func (c *countingCounter) TraceCounts(_ context.Context, ids []string) (map[string]tracestore.RelationCounts, error) {
	c.calls++
	out := map[string]tracestore.RelationCounts{}
	for _, id := range ids {
		out[id] = tracestore.RelationCounts{Feedback: 7}
	}
	return out, nil
}

func (c *countingCounter) ThreadCounts(_ context.Context, ids []string) (map[string]tracestore.RelationCounts, error) {
	return c.TraceCounts(context.Background(), ids)
}

func TestRelationCounterIsReplaceable(t *testing.T) {
	counter := &countingCounter{}
	s, err := tracestore.New(context.Background(), testutil.NewSQLite(t), testutil.TestLogger(),
		tracestore.WithRelationCounter(counter))
	require.NoError(t, err)

	_, err = s.CreateRun(context.Background(), model.RunFields{ID: "R1", TraceID: ptr("X")})
	require.NoError(t, err)
	traces, err := s.GetAllTraces(context.Background())
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, int64(7), traces[0].FeedbackCount)
	assert.Equal(t, 1, counter.calls)
}

func TestConcurrentWrites(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, _ *clock) {
		ctx := context.Background()
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.CreateRun(ctx, model.RunFields{
					ID:      fmt.Sprintf("R%d", i),
					TraceID: ptr("X"),
					Outputs: json.RawMessage(`{"llmOutput":{"tokenUsage":{"totalTokens":1}}}`),
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		traces, err := s.GetAllTraces(ctx)
		require.NoError(t, err)
		require.Len(t, traces, 1)
		assert.Equal(t, int64(20), traces[0].TotalRuns)
		assert.Equal(t, int64(20), traces[0].TotalTokensSum)
	})
}

func TestTotalTokensRejectsOutOfRangeUsage(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, _ *clock) {
		ctx := context.Background()
		for i, usage := range []string{"1e30", "1e19", "-5", "1.5", `"12"`} {
			id := fmt.Sprintf("R%d", i)
			run, err := s.CreateRun(ctx, fields(t, fmt.Sprintf(
				`{"id":%q,"trace_id":"X","outputs":{"llmOutput":{"tokenUsage":{"totalTokens":%s}}}}`, id, usage)))
			require.NoError(t, err)
			assert.Equal(t, int64(0), run.TotalTokens, usage)
		}
		run, err := s.CreateRun(ctx, fields(t,
			`{"id":"max","trace_id":"X","outputs":{"llmOutput":{"tokenUsage":{"totalTokens":9007199254740992}}}}`))
		require.NoError(t, err)
		assert.Equal(t, int64(model.MaxTokenCount), run.TotalTokens)

		traces, err := s.GetAllTraces(ctx)
		require.NoError(t, err)
		require.Len(t, traces, 1)
		assert.Equal(t, int64(model.MaxTokenCount), traces[0].TotalTokensSum)
	})
}

func TestTokenSumsClampInsteadOfOverflowing(t *testing.T) {
	eachAdapterDB(t, func(t *testing.T, s *tracestore.Store, db storage.Adapter, _ *clock) {
		ctx := context.Background()
		for _, id := range []string{"R1", "R2"} {
			_, err := s.CreateRun(ctx, fields(t, fmt.Sprintf(
				`{"id":%q,"trace_id":"X","extra":{"metadata":{"thread_id":"C1"}}}`, id)))
			require.NoError(t, err)
		}
		// Rows written before counts were bounded can still hold huge values.
		_, err := db.Prepare(`UPDATE runs SET total_tokens = ?`).Run(ctx, int64(math.MaxInt64-10))
		require.NoError(t, err)

		traces, err := s.GetAllTraces(ctx)
		require.NoError(t, err)
		require.Len(t, traces, 1)
		assert.Equal(t, int64(math.MaxInt64), traces[0].TotalTokensSum)

		threads, err := s.GetThreadOverviews(ctx)
		require.NoError(t, err)
		require.Len(t, threads, 1)
		assert.Equal(t, int64(math.MaxInt64), threads[0].TotalTokensSum)
	})
}

func TestAggregatesKeepCommasInValues(t *testing.T) {
	eachAdapter(t, func(t *testing.T, s *tracestore.Store, _ *clock) {
		ctx := context.Background()
		for _, js := range []string{
			`{"id":"R1","trace_id":"X","system":"acme, inc","run_type":"llm,chat","extra":{"metadata":{"thread_id":"C1"}}}`,
			`{"id":"R2","trace_id":"X","system":"other","run_type":"tool","extra":{"metadata":{"thread_id":"C1"}}}`,
			`{"id":"R3","trace_id":"X","system":"acme, inc","run_type":"llm,chat"}`,
		} {
			_, err := s.CreateRun(ctx, fields(t, js))
			require.NoError(t, err)
		}

		traces, err := s.GetAllTraces(ctx)
		require.NoError(t, err)
		require.Len(t, traces, 1)
		assert.ElementsMatch(t, []string{"acme, inc", "other"}, traces[0].Systems)
		assert.ElementsMatch(t, []string{"llm,chat", "tool"}, traces[0].RunTypes)

		threads, err := s.GetThreadOverviews(ctx)
		require.NoError(t, err)
		require.Len(t, threads, 1)
		assert.ElementsMatch(t, []string{"acme, inc", "other"}, threads[0].Systems)
		assert.ElementsMatch(t, []string{"llm,chat", "tool"}, threads[0].RunTypes)
	})
}
