package history

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"MaterniChat/global/config"
)

const collMessages = "consult_messages"

// MongoStore persists records in MongoDB. One collection, indexed by room
// and send time.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoStore(ctx context.Context, cfg config.MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("empty mongo uri")
	}
	db := cfg.Database
	if db == "" {
		db = "maternichat"
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.URI).SetMaxPoolSize(20))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongo")
	}

	coll := client.Database(db).Collection(collMessages)
	_, err = coll.Indexes().CreateOne(cctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "sent_at", Value: -1}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "ensure index")
	}
	return &MongoStore{client: client, coll: coll}, nil
}

func (s *MongoStore) Append(ctx context.Context, rec Record) error {
	_, err := s.coll.InsertOne(ctx, rec)
	return errors.Wrap(err, "insert message")
}

func (s *MongoStore) Recent(ctx context.Context, roomID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "sent_at", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, bson.M{"room_id": roomID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find messages")
	}
	defer func() { _ = cur.Close(ctx) }()

	var recs []Record
	if err := cur.All(ctx, &recs); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	// stored newest-first, hand back oldest-first
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
