package catalog

import (
	"time"

	"github.com/flowlinehq/flowline/pkg/api"
)

func (r *RedisStoreTestSuite) TestRedisStore_SaveGetFlow() {
	registered := time.Now()
	rec := api.FlowRecord{
		Name:         "Nightly Sync",
		BackendID:    "flow-1",
		RegisteredAt: registered,
	}

	r.NoError(r.store.SaveFlow(rec), "SaveFlow failed")

	got, err := r.store.GetFlow("Nightly Sync")
	r.NoError(err, "GetFlow failed")
	r.Equal("flow-1", got.BackendID)
	if !got.RegisteredAt.Equal(registered) {
		r.Failf("registration time mismatch", "got %v, want %v", got.RegisteredAt, registered)
	}

	// SaveFlow upserts by name.
	rec.BackendID = "flow-2"
	r.NoError(r.store.SaveFlow(rec), "SaveFlow (upsert) failed")

	got, err = r.store.GetFlow("Nightly Sync")
	r.NoError(err, "GetFlow after upsert failed")
	r.Equal("flow-2", got.BackendID)

	_, err = r.store.GetFlow("Ghost")
	r.ErrorIs(err, api.ErrFlowRecordNotFound)
}

func (r *RedisStoreTestSuite) TestRedisStore_ListFlows() {
	flows := []api.FlowRecord{
		{Name: "Alpha", BackendID: "flow-a", RegisteredAt: time.Now()},
		{Name: "Beta", BackendID: "flow-b", RegisteredAt: time.Now()},
	}
	for _, rec := range flows {
		r.NoErrorf(r.store.SaveFlow(rec), "SaveFlow(%s) failed", rec.Name)
	}

	all, err := r.store.ListFlows()
	r.NoError(err, "ListFlows failed")
	r.Len(all, 2)

	// Set-backed listing has no order guarantee.
	byName := make(map[string]string, len(all))
	for _, rec := range all {
		byName[rec.Name] = rec.BackendID
	}
	r.Equal("flow-a", byName["Alpha"])
	r.Equal("flow-b", byName["Beta"])
}

func (r *RedisStoreTestSuite) TestRedisStore_RunLifecycle() {
	started := time.Now()
	r.NoError(r.store.SaveRun(api.RunRecord{
		RunID:     "run-1",
		FlowName:  "Nightly Sync",
		State:     api.TaskRunning,
		StartedAt: started,
	}), "SaveRun failed")

	got, err := r.store.GetRun("run-1")
	r.NoError(err, "GetRun failed")
	r.Equal(api.TaskRunning, got.State)
	r.Equal("", got.Error)
	if !got.StartedAt.Equal(started) {
		r.Failf("start time mismatch", "got %v, want %v", got.StartedAt, started)
	}

	r.NoError(r.store.UpdateRun(api.RunRecord{
		RunID:      "run-1",
		FlowName:   "Nightly Sync",
		State:      api.TaskCompleted,
		StartedAt:  started,
		DurationMs: 1200,
	}), "UpdateRun failed")

	got, err = r.store.GetRun("run-1")
	r.NoError(err, "GetRun after update failed")
	r.Equal(api.TaskCompleted, got.State)
	r.Equal(int64(1200), got.DurationMs)

	r.ErrorIs(r.store.UpdateRun(api.RunRecord{RunID: "ghost"}), api.ErrRunRecordNotFound)

	_, err = r.store.GetRun("ghost")
	r.ErrorIs(err, api.ErrRunRecordNotFound)
}

func (r *RedisStoreTestSuite) TestRedisStore_ListRunsFilters() {
	started := time.Now()
	runs := []api.RunRecord{
		{RunID: "run-1", FlowName: "Sync", State: api.TaskCompleted, StartedAt: started, DurationMs: 900},
		{RunID: "run-2", FlowName: "Sync", State: api.TaskRunning, StartedAt: started},
		{RunID: "run-3", FlowName: "Rollup", State: api.TaskCompleted, StartedAt: started, DurationMs: 450},
	}
	for _, rec := range runs {
		r.NoErrorf(r.store.SaveRun(rec), "SaveRun(%s) failed", rec.RunID)
	}

	// run-2 finishes badly; its RUNNING index entry goes stale.
	r.NoError(r.store.UpdateRun(api.RunRecord{
		RunID:      "run-2",
		FlowName:   "Sync",
		State:      api.TaskFailed,
		StartedAt:  started,
		DurationMs: 300,
		Error:      "boom",
	}), "UpdateRun failed")

	all, err := r.store.ListRuns(api.RunFilter{})
	r.NoError(err, "ListRuns (no filter) failed")
	r.Len(all, 3)

	syncRuns, err := r.store.ListRuns(api.RunFilter{FlowName: "Sync"})
	r.NoError(err, "ListRuns (Sync) failed")
	r.Len(syncRuns, 2)

	// The stale RUNNING entry for run-2 must not surface.
	running, err := r.store.ListRuns(api.RunFilter{State: api.TaskRunning})
	r.NoError(err, "ListRuns (RUNNING) failed")
	r.Len(running, 0)

	failed, err := r.store.ListRuns(api.RunFilter{State: api.TaskFailed})
	r.NoError(err, "ListRuns (FAILED) failed")
	r.Len(failed, 1)
	r.Equal("run-2", failed[0].RunID)
	r.Equal("boom", failed[0].Error)

	completedSync, err := r.store.ListRuns(api.RunFilter{FlowName: "Sync", State: api.TaskCompleted})
	r.NoError(err, "ListRuns (Sync + COMPLETED) failed")
	r.Len(completedSync, 1)
	r.Equal("run-1", completedSync[0].RunID)

	none, err := r.store.ListRuns(api.RunFilter{FlowName: "Ghost"})
	r.NoError(err, "ListRuns (Ghost) failed")
	r.Len(none, 0)
}
