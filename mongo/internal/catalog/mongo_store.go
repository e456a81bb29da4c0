package catalog

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flowlinehq/flowline/pkg/api"
)

// MongoStore is a JournalStore backed by MongoDB. Flow registrations and
// run records live in two collections, keyed by flow name and run ID.
type MongoStore struct {
	flows *mongo.Collection
	runs  *mongo.Collection
}

// Ensure it implements JournalStore.
var _ api.JournalStore = (*MongoStore)(nil)

// NewMongoStore creates a Mongo-backed journal store.
// dbName defaults to "flowline" if empty; the collections are named
// "flows" and "runs".
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	if dbName == "" {
		dbName = "flowline"
	}

	db := client.Database(dbName)
	return &MongoStore{
		flows: db.Collection("flows"),
		runs:  db.Collection("runs"),
	}
}

type mongoFlowDoc struct {
	Name         string `bson:"_id"`
	BackendID    string `bson:"backend_id"`
	RegisteredAt int64  `bson:"registered_at"` // UnixNano
}

type mongoRunDoc struct {
	RunID      string `bson:"_id"`
	FlowName   string `bson:"flow_name"`
	State      string `bson:"state"`
	StartedAt  int64  `bson:"started_at"` // UnixNano
	DurationMs int64  `bson:"duration_ms"`
	Error      string `bson:"error,omitempty"`
}

func (s *MongoStore) SaveFlow(rec api.FlowRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc := mongoFlowDoc{
		Name:         rec.Name,
		BackendID:    rec.BackendID,
		RegisteredAt: rec.RegisteredAt.UnixNano(),
	}

	// Upsert by flow name, re-registrations overwrite.
	_, err := s.flows.ReplaceOne(ctx,
		bson.M{"_id": rec.Name},
		doc,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) GetFlow(name string) (api.FlowRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var doc mongoFlowDoc
	err := s.flows.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return api.FlowRecord{}, api.ErrFlowRecordNotFound
		}
		return api.FlowRecord{}, err
	}

	return flowFromDoc(doc), nil
}

func (s *MongoStore) ListFlows() ([]api.FlowRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cur, err := s.flows.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "registered_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []api.FlowRecord

	for cur.Next(ctx) {
		var doc mongoFlowDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		results = append(results, flowFromDoc(doc))
	}

	if err := cur.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *MongoStore) SaveRun(rec api.RunRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.runs.ReplaceOne(ctx,
		bson.M{"_id": rec.RunID},
		runToDoc(rec),
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) UpdateRun(rec api.RunRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	update := bson.M{
		"$set": bson.M{
			"flow_name":   rec.FlowName,
			"state":       string(rec.State),
			"started_at":  rec.StartedAt.UnixNano(),
			"duration_ms": rec.DurationMs,
			"error":       rec.Error,
		},
	}

	res, err := s.runs.UpdateByID(ctx, rec.RunID, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return api.ErrRunRecordNotFound
	}
	return nil
}

func (s *MongoStore) GetRun(runID string) (api.RunRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var doc mongoRunDoc
	err := s.runs.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return api.RunRecord{}, api.ErrRunRecordNotFound
		}
		return api.RunRecord{}, err
	}

	return runFromDoc(doc), nil
}

func (s *MongoStore) ListRuns(filter api.RunFilter) ([]api.RunRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bfilter := bson.M{}
	if filter.FlowName != "" {
		bfilter["flow_name"] = filter.FlowName
	}
	if filter.State != "" {
		bfilter["state"] = string(filter.State)
	}

	cur, err := s.runs.Find(ctx, bfilter,
		options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []api.RunRecord

	for cur.Next(ctx) {
		var doc mongoRunDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		results = append(results, runFromDoc(doc))
	}

	if err := cur.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func flowFromDoc(doc mongoFlowDoc) api.FlowRecord {
	return api.FlowRecord{
		Name:         doc.Name,
		BackendID:    doc.BackendID,
		RegisteredAt: time.Unix(0, doc.RegisteredAt),
	}
}

func runToDoc(rec api.RunRecord) mongoRunDoc {
	return mongoRunDoc{
		RunID:      rec.RunID,
		FlowName:   rec.FlowName,
		State:      string(rec.State),
		StartedAt:  rec.StartedAt.UnixNano(),
		DurationMs: rec.DurationMs,
		Error:      rec.Error,
	}
}

func runFromDoc(doc mongoRunDoc) api.RunRecord {
	return api.RunRecord{
		RunID:      doc.RunID,
		FlowName:   doc.FlowName,
		State:      api.TaskState(doc.State),
		StartedAt:  time.Unix(0, doc.StartedAt),
		DurationMs: doc.DurationMs,
		Error:      doc.Error,
	}
}
