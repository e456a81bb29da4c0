package flowline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestRunFlowTracksAgainstBackend runs a registered flow locally and
// checks that the backend still sees the full picture: a started run,
// task updates, logs and a completion.
func TestRunFlowTracksAgainstBackend(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mt := NewMemoryTransport(4)
	c := newTestClient(t, mt, nil)

	deploy := c.Task(func(ctx context.Context) (any, error) {
		Println(ctx, "artifacts shipped")
		return nil, nil
	}, TaskOptions{Name: "deploy"})
	verify := c.Task(func(ctx context.Context) (any, error) {
		return nil, nil
	}, TaskOptions{Name: "verify"})

	c.Flow(func(ctx context.Context) error {
		if _, err := deploy(ctx); err != nil {
			return err
		}
		_, err := verify(ctx)
		return err
	}, FlowOptions{
		Name:  "Release",
		Tasks: []TaskFunc{deploy, verify},
	})

	require.NoError(t, c.RegisterFlows(ctx))

	runID, err := c.RunFlow(ctx, "Release")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	count, tracked := mt.CompletedTaskCount(runID)
	require.True(t, tracked, "run should have been opened on the backend")
	require.Equal(t, 2, count)

	var order []int
	for _, u := range mt.Updates(runID) {
		if u.Update.State == TaskCompleted {
			order = append(order, u.TaskIndex)
		}
	}
	require.Equal(t, []int{0, 1}, order)

	rec, err := c.Journal().GetRun(runID)
	require.NoError(t, err)
	require.Equal(t, "Release", rec.FlowName)
	require.Equal(t, TaskCompleted, rec.State)
	require.GreaterOrEqual(t, rec.DurationMs, int64(0))
	require.False(t, rec.StartedAt.IsZero())
	require.Empty(t, rec.Error)

	logs := mt.Logs(runID)
	require.True(t, logsContain(logs, "artifacts shipped"))
	require.True(t, logsContain(logs, "Executing deploy (task 0)..."))
	require.True(t, logsContain(logs, "Flow execution completed successfully"))
}

// TestRunFlowWithoutRegistrationUsesLocalID exercises the fallback when
// the backend never heard of the flow: the run still executes and is
// journaled under a locally minted ID.
func TestRunFlowWithoutRegistrationUsesLocalID(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mt := NewMemoryTransport(4)
	c := newTestClient(t, mt, nil)

	step := c.Task(func(ctx context.Context) (any, error) { return "done", nil }, TaskOptions{Name: "step"})
	c.Flow(func(ctx context.Context) error {
		_, err := step(ctx)
		return err
	}, FlowOptions{
		Name:  "Local Only",
		Tasks: []TaskFunc{step},
	})

	runID, err := c.RunFlow(ctx, "Local Only")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	_, tracked := mt.CompletedTaskCount(runID)
	require.False(t, tracked, "no backend run should exist for an unregistered flow")

	rec, err := c.Journal().GetRun(runID)
	require.NoError(t, err)
	require.Equal(t, TaskCompleted, rec.State)
}

// TestRunFlowFailureIsJournaled covers the error path: the run error is
// surfaced to the caller and recorded on the run record.
func TestRunFlowFailureIsJournaled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mt := NewMemoryTransport(4)
	c := newTestClient(t, mt, nil)

	drop := c.Task(func(ctx context.Context) (any, error) {
		return nil, errors.New("index rebuild failed")
	}, TaskOptions{Name: "drop"})
	c.Flow(func(ctx context.Context) error {
		_, err := drop(ctx)
		return err
	}, FlowOptions{
		Name:  "Reindex",
		Tasks: []TaskFunc{drop},
	})

	require.NoError(t, c.RegisterFlows(ctx))

	runID, err := c.RunFlow(ctx, "Reindex")
	require.Error(t, err)
	require.NotEmpty(t, runID)

	te, ok := AsTaskExecutionError(err)
	require.True(t, ok)
	require.Equal(t, "drop", te.TaskName)

	rec, jerr := c.Journal().GetRun(runID)
	require.NoError(t, jerr)
	require.Equal(t, TaskFailed, rec.State)
	require.Contains(t, rec.Error, "index rebuild failed")
}

func TestRunFlowUnknownFlow(t *testing.T) {
	t.Parallel()

	mt := NewMemoryTransport(4)
	c := newTestClient(t, mt, nil)

	_, err := c.RunFlow(context.Background(), "Ghost")
	require.ErrorIs(t, err, ErrFlowNotFound)
}

// TestReportRoundtrip fetches the report for a completed backend run and
// downloads its rendered content.
func TestReportRoundtrip(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mt := NewMemoryTransport(4)
	c := newTestClient(t, mt, nil)

	emit := c.Task(func(ctx context.Context) (any, error) {
		Println(ctx, "checksum ok")
		return nil, nil
	}, TaskOptions{Name: "emit"})
	c.Flow(func(ctx context.Context) error {
		_, err := emit(ctx)
		return err
	}, FlowOptions{
		Name:  "Audit",
		Tasks: []TaskFunc{emit},
	})

	require.NoError(t, c.RegisterFlows(ctx))

	runID, err := c.RunFlow(ctx, "Audit")
	require.NoError(t, err)

	rep, err := c.Report(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, "report-"+runID, rep.ID)
	require.Equal(t, "Audit", rep.FlowName)

	data, err := c.DownloadReport(ctx, runID)
	require.NoError(t, err)
	require.Contains(t, string(data), "checksum ok")

	_, err = c.Report(ctx, "no-such-run")
	require.Error(t, err)
}

// TestJournalListRuns checks the local run history filters.
func TestJournalListRuns(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mt := NewMemoryTransport(4)
	c := newTestClient(t, mt, nil)

	alpha := c.Task(func(ctx context.Context) (any, error) { return nil, nil }, TaskOptions{Name: "alpha"})
	beta := c.Task(func(ctx context.Context) (any, error) {
		return nil, errors.New("no capacity")
	}, TaskOptions{Name: "beta"})

	c.Flow(func(ctx context.Context) error {
		_, err := alpha(ctx)
		return err
	}, FlowOptions{Name: "Steady", Tasks: []TaskFunc{alpha}})
	c.Flow(func(ctx context.Context) error {
		_, err := beta(ctx)
		return err
	}, FlowOptions{Name: "Shaky", Tasks: []TaskFunc{beta}})

	_, err := c.RunFlow(ctx, "Steady")
	require.NoError(t, err)
	_, err = c.RunFlow(ctx, "Shaky")
	require.Error(t, err)

	all, err := c.Journal().ListRuns(RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	failed, err := c.Journal().ListRuns(RunFilter{State: TaskFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "Shaky", failed[0].FlowName)

	steady, err := c.Journal().ListRuns(RunFilter{FlowName: "Steady"})
	require.NoError(t, err)
	require.Len(t, steady, 1)
	require.Equal(t, TaskCompleted, steady[0].State)
}
