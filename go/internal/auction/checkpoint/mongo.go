package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
)

const DefaultCollection = "auction_checkpoints"

type checkpointDoc struct {
	ID        string    `bson:"_id"`
	Status    string    `bson:"status"`
	Sequence  int64     `bson:"sequence"`
	Session   string    `bson:"session"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore keeps one document per tournament keyed by its code.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &MongoStore{coll: db.Collection(collection)}
}

// Save replaces the document unless a newer sequence is already stored. In
// that case the upsert collides on _id and the write is dropped.
func (m *MongoStore) Save(ctx context.Context, s *engine.Session) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	doc := checkpointDoc{
		ID:        s.TournamentCode,
		Status:    string(s.Status),
		Sequence:  int64(s.Sequence),
		Session:   string(data),
		UpdatedAt: time.Now().UTC(),
	}
	filter := bson.M{"_id": s.TournamentCode, "sequence": bson.M{"$lte": doc.Sequence}}
	_, err = m.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", s.TournamentCode, err)
	}
	return nil
}

func (m *MongoStore) Load(ctx context.Context, code string) (*engine.Session, error) {
	var doc checkpointDoc
	err := m.coll.FindOne(ctx, bson.M{"_id": code}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", code, err)
	}
	return decode([]byte(doc.Session))
}

func (m *MongoStore) ListResumable(ctx context.Context) ([]*engine.Session, error) {
	cur, err := m.coll.Find(ctx,
		bson.M{"status": bson.M{"$in": resumableStatuses()}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer cur.Close(ctx)

	var out []*engine.Session
	for cur.Next(ctx) {
		var doc checkpointDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
		s, err := decode([]byte(doc.Session))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, cur.Err()
}

var _ Store = (*MongoStore)(nil)
