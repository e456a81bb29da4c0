// Package mongo provides a MongoDB-backed journal store for flowline.
package mongo

import (
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/flowlinehq/flowline/pkg/api"

	mcatalog "github.com/flowlinehq/flowline/mongo/internal/catalog"
)

// NewJournalStore returns a JournalStore that keeps flow registrations
// and run records in MongoDB, in the "flows" and "runs" collections of
// dbName (default "flowline"). Wire it in via Config.Journal:
//
//	client, _ := mongo.Connect(ctx, options.Client().ApplyURI(uri))
//	cfg := flowline.Config{Journal: flowlinemongo.NewJournalStore(client, "")}
func NewJournalStore(client *mongo.Client, dbName string) api.JournalStore {
	return mcatalog.NewMongoStore(client, dbName)
}
