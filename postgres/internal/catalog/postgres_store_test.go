package catalog

import (
	"time"

	"github.com/flowlinehq/flowline/pkg/api"
)

func (p *PostgresStoreTestSuite) TestPostgresStore_SaveGetFlow() {
	registered := time.Now()
	rec := api.FlowRecord{
		Name:         "Nightly Sync",
		BackendID:    "flow-1",
		RegisteredAt: registered,
	}

	p.NoError(p.store.SaveFlow(rec), "SaveFlow failed")

	got, err := p.store.GetFlow("Nightly Sync")
	p.NoError(err, "GetFlow failed")
	p.Equal("flow-1", got.BackendID)
	if !got.RegisteredAt.Equal(registered) {
		p.Failf("registration time mismatch", "got %v, want %v", got.RegisteredAt, registered)
	}

	// SaveFlow upserts by name.
	rec.BackendID = "flow-2"
	p.NoError(p.store.SaveFlow(rec), "SaveFlow (upsert) failed")

	got, err = p.store.GetFlow("Nightly Sync")
	p.NoError(err, "GetFlow after upsert failed")
	p.Equal("flow-2", got.BackendID)

	_, err = p.store.GetFlow("Ghost")
	p.ErrorIs(err, api.ErrFlowRecordNotFound)
}

func (p *PostgresStoreTestSuite) TestPostgresStore_ListFlowsOrdered() {
	base := time.Now()
	p.NoError(p.store.SaveFlow(api.FlowRecord{
		Name:         "Second",
		BackendID:    "flow-b",
		RegisteredAt: base.Add(time.Second),
	}), "SaveFlow failed")
	p.NoError(p.store.SaveFlow(api.FlowRecord{
		Name:         "First",
		BackendID:    "flow-a",
		RegisteredAt: base,
	}), "SaveFlow failed")

	all, err := p.store.ListFlows()
	p.NoError(err, "ListFlows failed")
	p.Len(all, 2)
	p.Equal("First", all[0].Name)
	p.Equal("Second", all[1].Name)
}

func (p *PostgresStoreTestSuite) TestPostgresStore_RunLifecycle() {
	started := time.Now()
	p.NoError(p.store.SaveRun(api.RunRecord{
		RunID:     "run-1",
		FlowName:  "Nightly Sync",
		State:     api.TaskRunning,
		StartedAt: started,
	}), "SaveRun failed")

	got, err := p.store.GetRun("run-1")
	p.NoError(err, "GetRun failed")
	p.Equal(api.TaskRunning, got.State)
	p.Equal("", got.Error)

	p.NoError(p.store.UpdateRun(api.RunRecord{
		RunID:      "run-1",
		FlowName:   "Nightly Sync",
		State:      api.TaskFailed,
		StartedAt:  started,
		DurationMs: 840,
		Error:      `task "load" failed`,
	}), "UpdateRun failed")

	got, err = p.store.GetRun("run-1")
	p.NoError(err, "GetRun after update failed")
	p.Equal(api.TaskFailed, got.State)
	p.Equal(int64(840), got.DurationMs)
	p.Equal(`task "load" failed`, got.Error)

	p.ErrorIs(p.store.UpdateRun(api.RunRecord{RunID: "ghost"}), api.ErrRunRecordNotFound)

	_, err = p.store.GetRun("ghost")
	p.ErrorIs(err, api.ErrRunRecordNotFound)
}

func (p *PostgresStoreTestSuite) TestPostgresStore_ListRunsFilterAndOrder() {
	base := time.Now()
	runs := []api.RunRecord{
		{RunID: "run-3", FlowName: "Rollup", State: api.TaskCompleted, StartedAt: base.Add(2 * time.Second), DurationMs: 450},
		{RunID: "run-1", FlowName: "Sync", State: api.TaskCompleted, StartedAt: base, DurationMs: 900},
		{RunID: "run-2", FlowName: "Sync", State: api.TaskFailed, StartedAt: base.Add(time.Second), DurationMs: 300, Error: "boom"},
	}
	for _, rec := range runs {
		p.NoErrorf(p.store.SaveRun(rec), "SaveRun(%s) failed", rec.RunID)
	}

	// Unfiltered listing comes back ordered by start time.
	all, err := p.store.ListRuns(api.RunFilter{})
	p.NoError(err, "ListRuns (no filter) failed")
	p.Len(all, 3)
	p.Equal("run-1", all[0].RunID)
	p.Equal("run-2", all[1].RunID)
	p.Equal("run-3", all[2].RunID)

	syncRuns, err := p.store.ListRuns(api.RunFilter{FlowName: "Sync"})
	p.NoError(err, "ListRuns (Sync) failed")
	p.Len(syncRuns, 2)

	failedSync, err := p.store.ListRuns(api.RunFilter{FlowName: "Sync", State: api.TaskFailed})
	p.NoError(err, "ListRuns (Sync + FAILED) failed")
	p.Len(failedSync, 1)
	p.Equal("run-2", failedSync[0].RunID)
	p.Equal("boom", failedSync[0].Error)

	none, err := p.store.ListRuns(api.RunFilter{FlowName: "Ghost"})
	p.NoError(err, "ListRuns (Ghost) failed")
	p.Len(none, 0)
}
