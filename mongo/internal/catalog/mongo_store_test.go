package catalog

import (
	"time"

	"github.com/flowlinehq/flowline/pkg/api"
)

func (m *MongoStoreTestSuite) TestMongoStore_SaveGetFlow() {
	registered := time.Now()
	rec := api.FlowRecord{
		Name:         "Nightly Sync",
		BackendID:    "flow-1",
		RegisteredAt: registered,
	}

	m.NoError(m.store.SaveFlow(rec), "SaveFlow failed")

	got, err := m.store.GetFlow("Nightly Sync")
	m.NoError(err, "GetFlow failed")
	m.Equal("flow-1", got.BackendID)
	if !got.RegisteredAt.Equal(registered) {
		m.Failf("registration time mismatch", "got %v, want %v", got.RegisteredAt, registered)
	}

	// SaveFlow upserts by name.
	rec.BackendID = "flow-2"
	m.NoError(m.store.SaveFlow(rec), "SaveFlow (upsert) failed")

	got, err = m.store.GetFlow("Nightly Sync")
	m.NoError(err, "GetFlow after upsert failed")
	m.Equal("flow-2", got.BackendID)

	_, err = m.store.GetFlow("Ghost")
	m.ErrorIs(err, api.ErrFlowRecordNotFound)
}

func (m *MongoStoreTestSuite) TestMongoStore_ListFlowsOrdered() {
	base := time.Now()
	m.NoError(m.store.SaveFlow(api.FlowRecord{
		Name:         "Second",
		BackendID:    "flow-b",
		RegisteredAt: base.Add(time.Second),
	}), "SaveFlow failed")
	m.NoError(m.store.SaveFlow(api.FlowRecord{
		Name:         "First",
		BackendID:    "flow-a",
		RegisteredAt: base,
	}), "SaveFlow failed")

	all, err := m.store.ListFlows()
	m.NoError(err, "ListFlows failed")
	m.Len(all, 2)
	m.Equal("First", all[0].Name)
	m.Equal("Second", all[1].Name)
}

func (m *MongoStoreTestSuite) TestMongoStore_RunLifecycle() {
	started := time.Now()
	m.NoError(m.store.SaveRun(api.RunRecord{
		RunID:     "run-1",
		FlowName:  "Nightly Sync",
		State:     api.TaskRunning,
		StartedAt: started,
	}), "SaveRun failed")

	got, err := m.store.GetRun("run-1")
	m.NoError(err, "GetRun failed")
	m.Equal(api.TaskRunning, got.State)
	m.Equal("", got.Error)
	if !got.StartedAt.Equal(started) {
		m.Failf("start time mismatch", "got %v, want %v", got.StartedAt, started)
	}

	m.NoError(m.store.UpdateRun(api.RunRecord{
		RunID:      "run-1",
		FlowName:   "Nightly Sync",
		State:      api.TaskFailed,
		StartedAt:  started,
		DurationMs: 840,
		Error:      `task "load" failed`,
	}), "UpdateRun failed")

	got, err = m.store.GetRun("run-1")
	m.NoError(err, "GetRun after update failed")
	m.Equal(api.TaskFailed, got.State)
	m.Equal(int64(840), got.DurationMs)
	m.Equal(`task "load" failed`, got.Error)

	m.ErrorIs(m.store.UpdateRun(api.RunRecord{RunID: "ghost"}), api.ErrRunRecordNotFound)

	_, err = m.store.GetRun("ghost")
	m.ErrorIs(err, api.ErrRunRecordNotFound)
}

func (m *MongoStoreTestSuite) TestMongoStore_ListRunsFilterAndOrder() {
	base := time.Now()
	runs := []api.RunRecord{
		{RunID: "run-3", FlowName: "Rollup", State: api.TaskCompleted, StartedAt: base.Add(2 * time.Second), DurationMs: 450},
		{RunID: "run-1", FlowName: "Sync", State: api.TaskCompleted, StartedAt: base, DurationMs: 900},
		{RunID: "run-2", FlowName: "Sync", State: api.TaskFailed, StartedAt: base.Add(time.Second), DurationMs: 300, Error: "boom"},
	}
	for _, rec := range runs {
		m.NoErrorf(m.store.SaveRun(rec), "SaveRun(%s) failed", rec.RunID)
	}

	// Unfiltered listing comes back ordered by start time.
	all, err := m.store.ListRuns(api.RunFilter{})
	m.NoError(err, "ListRuns (no filter) failed")
	m.Len(all, 3)
	m.Equal("run-1", all[0].RunID)
	m.Equal("run-2", all[1].RunID)
	m.Equal("run-3", all[2].RunID)

	syncRuns, err := m.store.ListRuns(api.RunFilter{FlowName: "Sync"})
	m.NoError(err, "ListRuns (Sync) failed")
	m.Len(syncRuns, 2)

	failedSync, err := m.store.ListRuns(api.RunFilter{FlowName: "Sync", State: api.TaskFailed})
	m.NoError(err, "ListRuns (Sync + FAILED) failed")
	m.Len(failedSync, 1)
	m.Equal("run-2", failedSync[0].RunID)
	m.Equal("boom", failedSync[0].Error)

	none, err := m.store.ListRuns(api.RunFilter{FlowName: "Ghost"})
	m.NoError(err, "ListRuns (Ghost) failed")
	m.Len(none, 0)
}
