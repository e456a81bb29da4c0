package catalog

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowlinehq/flowline/pkg/api"
)

// RedisStore is a JournalStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>flow:<name>           => gob-encoded redisFlowPayload
//	<prefix>idx:flows             => SET of all flow names
//	<prefix>run:<id>              => gob-encoded redisRunPayload
//	<prefix>idx:runs              => SET of all run IDs
//	<prefix>idx:runflow:<flow>    => SET of run IDs for a given flow
//	<prefix>idx:runstate:<state>  => SET of run IDs for a given state
//
// The indexes are best-effort; they are always updated on Save/Update, and
// ListRuns uses set operations to narrow the candidates before filtering by
// the decoded payload. Stale state-index entries from a state change are
// therefore harmless.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ api.JournalStore = (*RedisStore)(nil)

type redisFlowPayload struct {
	Name         string
	BackendID    string
	RegisteredAt int64 // UnixNano
}

type redisRunPayload struct {
	RunID      string
	FlowName   string
	State      string
	StartedAt  int64 // UnixNano
	DurationMs int64
	Error      string
}

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "flowline:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "flowline:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisStore) keyFlow(name string) string {
	return r.prefix + "flow:" + name
}

func (r *RedisStore) keyFlowIndex() string {
	return r.prefix + "idx:flows"
}

func (r *RedisStore) keyRun(id string) string {
	return r.prefix + "run:" + id
}

func (r *RedisStore) keyRunIndex() string {
	return r.prefix + "idx:runs"
}

func (r *RedisStore) keyRunFlow(flowName string) string {
	return r.prefix + "idx:runflow:" + flowName
}

func (r *RedisStore) keyRunState(state api.TaskState) string {
	return r.prefix + "idx:runstate:" + string(state)
}

func (r *RedisStore) SaveFlow(rec api.FlowRecord) error {
	ctx := context.Background()

	data, err := encodeRedisFlow(rec)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, r.keyFlow(rec.Name), data, 0).Err(); err != nil {
		return err
	}

	// Index update is best-effort; GetFlow works without it.
	_ = r.client.SAdd(ctx, r.keyFlowIndex(), rec.Name).Err()
	return nil
}

func (r *RedisStore) GetFlow(name string) (api.FlowRecord, error) {
	ctx := context.Background()

	data, err := r.client.Get(ctx, r.keyFlow(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return api.FlowRecord{}, api.ErrFlowRecordNotFound
		}
		return api.FlowRecord{}, err
	}
	return decodeRedisFlow(data)
}

func (r *RedisStore) ListFlows() ([]api.FlowRecord, error) {
	ctx := context.Background()

	names, err := r.client.SMembers(ctx, r.keyFlowIndex()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []api.FlowRecord{}, nil
		}
		return nil, err
	}
	if len(names) == 0 {
		return []api.FlowRecord{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.Get(ctx, r.keyFlow(name))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var flows []api.FlowRecord
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		rec, err := decodeRedisFlow(data)
		if err != nil {
			return nil, err
		}
		flows = append(flows, rec)
	}
	return flows, nil
}

func (r *RedisStore) SaveRun(rec api.RunRecord) error {
	ctx := context.Background()

	data, err := encodeRedisRun(rec)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, r.keyRun(rec.RunID), data, 0).Err(); err != nil {
		return err
	}

	r.indexRun(ctx, rec)
	return nil
}

func (r *RedisStore) UpdateRun(rec api.RunRecord) error {
	ctx := context.Background()

	n, err := r.client.Exists(ctx, r.keyRun(rec.RunID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return api.ErrRunRecordNotFound
	}

	data, err := encodeRedisRun(rec)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.keyRun(rec.RunID), data, 0).Err(); err != nil {
		return err
	}

	// Re-add only; the old state's index entry stays behind and ListRuns
	// filters it out by payload.
	r.indexRun(ctx, rec)
	return nil
}

func (r *RedisStore) indexRun(ctx context.Context, rec api.RunRecord) {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.keyRunIndex(), rec.RunID)
	pipe.SAdd(ctx, r.keyRunFlow(rec.FlowName), rec.RunID)
	pipe.SAdd(ctx, r.keyRunState(rec.State), rec.RunID)
	_, _ = pipe.Exec(ctx)
}

func (r *RedisStore) GetRun(runID string) (api.RunRecord, error) {
	ctx := context.Background()

	data, err := r.client.Get(ctx, r.keyRun(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return api.RunRecord{}, api.ErrRunRecordNotFound
		}
		return api.RunRecord{}, err
	}
	return decodeRedisRun(data)
}

func (r *RedisStore) ListRuns(filter api.RunFilter) ([]api.RunRecord, error) {
	ctx := context.Background()

	var ids []string
	var err error

	switch {
	case filter.FlowName != "" && filter.State != "":
		ids, err = r.client.SInter(ctx,
			r.keyRunFlow(filter.FlowName),
			r.keyRunState(filter.State),
		).Result()
	case filter.FlowName != "":
		ids, err = r.client.SMembers(ctx, r.keyRunFlow(filter.FlowName)).Result()
	case filter.State != "":
		ids, err = r.client.SMembers(ctx, r.keyRunState(filter.State)).Result()
	default:
		ids, err = r.client.SMembers(ctx, r.keyRunIndex()).Result()
	}

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []api.RunRecord{}, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return []api.RunRecord{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, r.keyRun(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var runs []api.RunRecord
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		rec, err := decodeRedisRun(data)
		if err != nil {
			return nil, err
		}
		// The payload is authoritative; index sets may hold stale entries.
		if filter.FlowName != "" && rec.FlowName != filter.FlowName {
			continue
		}
		if filter.State != "" && rec.State != filter.State {
			continue
		}
		runs = append(runs, rec)
	}
	return runs, nil
}

func encodeRedisFlow(rec api.FlowRecord) ([]byte, error) {
	payload := redisFlowPayload{
		Name:         rec.Name,
		BackendID:    rec.BackendID,
		RegisteredAt: rec.RegisteredAt.UnixNano(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisFlow(data []byte) (api.FlowRecord, error) {
	if len(data) == 0 {
		return api.FlowRecord{}, api.ErrFlowRecordNotFound
	}
	var payload redisFlowPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return api.FlowRecord{}, err
	}

	return api.FlowRecord{
		Name:         payload.Name,
		BackendID:    payload.BackendID,
		RegisteredAt: time.Unix(0, payload.RegisteredAt),
	}, nil
}

func encodeRedisRun(rec api.RunRecord) ([]byte, error) {
	payload := redisRunPayload{
		RunID:      rec.RunID,
		FlowName:   rec.FlowName,
		State:      string(rec.State),
		StartedAt:  rec.StartedAt.UnixNano(),
		DurationMs: rec.DurationMs,
		Error:      rec.Error,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisRun(data []byte) (api.RunRecord, error) {
	if len(data) == 0 {
		return api.RunRecord{}, api.ErrRunRecordNotFound
	}
	var payload redisRunPayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return api.RunRecord{}, err
	}

	return api.RunRecord{
		RunID:      payload.RunID,
		FlowName:   payload.FlowName,
		State:      api.TaskState(payload.State),
		StartedAt:  time.Unix(0, payload.StartedAt),
		DurationMs: payload.DurationMs,
		Error:      payload.Error,
	}, nil
}
