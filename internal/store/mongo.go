package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/roach88/skinscan/internal/scan"
)

const (
	// MongoCollection holds the scan records.
	MongoCollection = "scan_history"

	// mongoCounters holds the insertion sequence counter.
	mongoCounters   = "counters"
	mongoCounterKey = "scan_history_seq"
)

// mongoRecord is the BSON shape of a scan record. Field names match the
// documents written by earlier versions of the service, which stored the
// image as a base64 string.
type mongoRecord struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	UserID      string             `bson:"user_id"`
	Timestamp   time.Time          `bson:"timestamp"`
	Result      string             `bson:"result"`
	Confidence  float64            `bson:"confidence"`
	ImageBase64 string             `bson:"image_base64"`
	Seq         int64              `bson:"seq"`
}

// Mongo is the MongoDB-backed RecordStore.
//
// Insertion order is tracked with a counters document incremented atomically
// by FindOneAndUpdate, since ObjectIDs only order within one process.
type Mongo struct {
	client   *mongo.Client
	records  *mongo.Collection
	counters *mongo.Collection
}

var _ RecordStore = (*Mongo)(nil)

// OpenMongo connects to MongoDB, verifies the connection and ensures the
// per-user history index exists.
func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	m := &Mongo{
		client:   client,
		records:  db.Collection(MongoCollection),
		counters: db.Collection(mongoCounters),
	}

	_, err = m.records.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "timestamp", Value: -1},
			{Key: "seq", Value: -1},
		},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create history index: %w", err)
	}

	return m, nil
}

// Append inserts rec and returns the hex ObjectID.
func (m *Mongo) Append(ctx context.Context, rec scan.Record) (string, error) {
	if err := validateRecord(rec); err != nil {
		return "", fmt.Errorf("append record: %w", err)
	}

	seq, err := m.nextSeq(ctx)
	if err != nil {
		return "", fmt.Errorf("append record: %w", err)
	}

	doc := toMongoRecord(rec)
	doc.Seq = seq

	res, err := m.records.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("append record: %w", err)
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("append record: unexpected inserted id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

// FindByUser returns all records for userID, newest first.
func (m *Mongo) FindByUser(ctx context.Context, userID string) ([]scan.Record, error) {
	return m.find(ctx, userID, options.Find().SetSort(historySort()))
}

// FindPage returns a window of userID's records, newest first.
func (m *Mongo) FindPage(ctx context.Context, userID string, skip, limit int) ([]scan.Record, error) {
	if err := checkWindow(skip, limit); err != nil {
		return nil, fmt.Errorf("query page: %w", err)
	}
	opts := options.Find().
		SetSort(historySort()).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))
	return m.find(ctx, userID, opts)
}

// CountByUser returns the number of records for userID.
func (m *Mongo) CountByUser(ctx context.Context, userID string) (int, error) {
	n, err := m.records.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return int(n), nil
}

// Ping verifies the server is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *Mongo) find(ctx context.Context, userID string, opts *options.FindOptions) ([]scan.Record, error) {
	cursor, err := m.records.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	var docs []mongoRecord
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}

	records := make([]scan.Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := fromMongoRecord(doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (m *Mongo) nextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := m.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": mongoCounterKey},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, fmt.Errorf("next seq: counter missing after upsert")
		}
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return counter.Seq, nil
}

func historySort() bson.D {
	return bson.D{
		{Key: "timestamp", Value: -1},
		{Key: "seq", Value: -1},
	}
}

func toMongoRecord(rec scan.Record) mongoRecord {
	return mongoRecord{
		UserID:      rec.UserID,
		Timestamp:   rec.Timestamp.UTC().Truncate(scan.TimestampPrecision),
		Result:      rec.Label,
		Confidence:  rec.Confidence,
		ImageBase64: base64.StdEncoding.EncodeToString(rec.Image),
	}
}

func fromMongoRecord(doc mongoRecord) (scan.Record, error) {
	var image []byte
	if doc.ImageBase64 != "" {
		var err error
		image, err = base64.StdEncoding.DecodeString(doc.ImageBase64)
		if err != nil {
			return scan.Record{}, fmt.Errorf("decode image for record %s: %w", doc.ID.Hex(), err)
		}
	}
	return scan.Record{
		ID:         doc.ID.Hex(),
		UserID:     doc.UserID,
		Timestamp:  doc.Timestamp.UTC(),
		Label:      doc.Result,
		Confidence: doc.Confidence,
		Image:      image,
		Seq:        doc.Seq,
	}, nil
}
