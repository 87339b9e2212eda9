// Package mongodb provides a MongoDB implementation of the event store adapter,
// the position store and the view store.
//
// Appends run in a multi-document transaction, so the server must be a replica
// set or a sharded cluster. Global positions are drawn from a counter document
// inside the same transaction, which serializes appends: a second writer hits a
// write conflict on the counter and its transaction is retried by the driver.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// Collection names.
const (
	CollectionEvents    = "events"
	CollectionStreams   = "streams"
	CollectionCounters  = "counters"
	CollectionPositions = "subscription_positions"
	CollectionViews     = "views"
)

const globalPositionCounter = "global_position"

// Ensure MongoAdapter implements required interfaces.
var (
	_ adapters.EventStoreAdapter = (*MongoAdapter)(nil)
	_ adapters.PositionStore     = (*MongoAdapter)(nil)
	_ adapters.ViewStore         = (*MongoAdapter)(nil)
	_ adapters.HealthChecker     = (*MongoAdapter)(nil)
)

// MongoAdapter stores events, positions and views in one database.
type MongoAdapter struct {
	client     *mongo.Client
	db         *mongo.Database
	ownsClient bool
	closed     atomic.Bool
}

type eventDocument struct {
	GlobalPosition int64             `bson:"_id"`
	EventID        string            `bson:"event_id"`
	StreamID       string            `bson:"stream_id"`
	Version        int64             `bson:"version"`
	Type           string            `bson:"type"`
	Data           []byte            `bson:"data"`
	Metadata       adapters.Metadata `bson:"metadata"`
	Timestamp      time.Time         `bson:"timestamp"`
}

func (d eventDocument) stored() adapters.StoredEvent {
	return adapters.StoredEvent{
		ID:             d.EventID,
		StreamID:       d.StreamID,
		Type:           d.Type,
		Data:           d.Data,
		Metadata:       d.Metadata,
		Version:        d.Version,
		GlobalPosition: uint64(d.GlobalPosition), // #nosec G115 - counter starts at 1
		Timestamp:      d.Timestamp.UTC(),
	}
}

type streamDocument struct {
	StreamID  string    `bson:"_id"`
	Category  string    `bson:"category"`
	Version   int64     `bson:"version"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Connect connects to uri and creates an adapter owning the client.
func Connect(ctx context.Context, uri, database string) (*MongoAdapter, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("occurrent/mongodb: failed to connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, wrap("ping", err)
	}

	adapter := NewAdapter(client, database)
	adapter.ownsClient = true
	return adapter, nil
}

// NewAdapter creates an adapter on an existing client. Close does not disconnect it.
func NewAdapter(client *mongo.Client, database string) *MongoAdapter {
	return &MongoAdapter{
		client: client,
		db:     client.Database(database),
	}
}

// Database returns the database the adapter writes to.
func (a *MongoAdapter) Database() *mongo.Database {
	return a.db
}

// Initialize creates the indexes. It is idempotent.
func (a *MongoAdapter) Initialize(ctx context.Context) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}

	indexes := []struct {
		collection string
		model      mongo.IndexModel
	}{
		{CollectionEvents, mongo.IndexModel{
			Keys:    bson.D{{Key: "stream_id", Value: 1}, {Key: "version", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_stream_version"),
		}},
		{CollectionEvents, mongo.IndexModel{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_event_id"),
		}},
		{CollectionStreams, mongo.IndexModel{
			Keys:    bson.D{{Key: "category", Value: 1}},
			Options: options.Index().SetName("idx_category"),
		}},
		{CollectionViews, mongo.IndexModel{
			Keys:    bson.D{{Key: "projection", Value: 1}, {Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_projection_key"),
		}},
	}

	for _, idx := range indexes {
		if _, err := a.db.Collection(idx.collection).Indexes().CreateOne(ctx, idx.model); err != nil {
			return wrap("create index on "+idx.collection, err)
		}
	}
	return nil
}

// Append stores events to the specified stream with optimistic concurrency control.
func (a *MongoAdapter) Append(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}
	if err := adapters.ValidateAppend(streamID, events); err != nil {
		return nil, err
	}

	session, err := a.client.StartSession()
	if err != nil {
		return nil, wrap("start session", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		return a.appendInTx(txCtx, streamID, events, expectedVersion)
	})
	if err != nil {
		var concErr *adapters.ConcurrencyError
		var notFound *adapters.StreamNotFoundError
		if errors.As(err, &concErr) || errors.As(err, &notFound) || errors.Is(err, adapters.ErrInvalidVersion) {
			return nil, err
		}
		return nil, wrap("append", err)
	}
	return result.([]adapters.StoredEvent), nil
}

func (a *MongoAdapter) appendInTx(ctx context.Context, streamID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	streams := a.db.Collection(CollectionStreams)

	var stream streamDocument
	streamExists := true
	err := streams.FindOne(ctx, bson.M{"_id": streamID}).Decode(&stream)
	if errors.Is(err, mongo.ErrNoDocuments) {
		streamExists = false
	} else if err != nil {
		return nil, err
	}

	if err := adapters.CheckVersion(streamID, expectedVersion, stream.Version, streamExists); err != nil {
		return nil, err
	}

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err = a.db.Collection(CollectionCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": globalPositionCounter},
		bson.M{"$inc": bson.M{"seq": int64(len(events))}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	first := counter.Seq - int64(len(events)) + 1
	docs := make([]eventDocument, len(events))
	stored := make([]adapters.StoredEvent, len(events))
	for i, event := range events {
		docs[i] = eventDocument{
			GlobalPosition: first + int64(i),
			EventID:        uuid.NewString(),
			StreamID:       streamID,
			Version:        stream.Version + int64(i) + 1,
			Type:           event.Type,
			Data:           event.Data,
			Metadata:       event.Metadata,
			Timestamp:      now,
		}
		stored[i] = docs[i].stored()
	}

	if _, err := a.db.Collection(CollectionEvents).InsertMany(ctx, docs); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, adapters.NewConcurrencyError(streamID, expectedVersion, stream.Version)
		}
		return nil, err
	}

	newVersion := stream.Version + int64(len(events))
	_, err = streams.UpdateOne(ctx,
		bson.M{"_id": streamID},
		bson.M{
			"$set":         bson.M{"version": newVersion, "updated_at": now},
			"$setOnInsert": bson.M{"category": adapters.Category(streamID), "created_at": now},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Load retrieves events of a stream with a version greater than fromVersion.
func (a *MongoAdapter) Load(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}
	if streamID == "" {
		return nil, adapters.ErrEmptyStreamID
	}

	return a.find(ctx, "load",
		bson.M{"stream_id": streamID, "version": bson.M{"$gt": fromVersion}},
		options.Find().SetSort(bson.D{{Key: "version", Value: 1}}),
	)
}

// LoadFromPosition retrieves events after a global position, across all streams.
func (a *MongoAdapter) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}

	return a.find(ctx, "load from position",
		bson.M{"_id": bson.M{"$gt": int64(fromPosition)}}, // #nosec G115 - positions come from the counter
		options.Find().
			SetSort(bson.D{{Key: "_id", Value: 1}}).
			SetLimit(int64(adapters.LoadLimit(limit))),
	)
}

func (a *MongoAdapter) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptionsBuilder) ([]adapters.StoredEvent, error) {
	cursor, err := a.db.Collection(CollectionEvents).Find(ctx, filter, opts)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer cursor.Close(ctx)

	var docs []eventDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrap(op, err)
	}

	events := make([]adapters.StoredEvent, len(docs))
	for i, doc := range docs {
		events[i] = doc.stored()
	}
	return events, nil
}

// GetStreamInfo returns metadata about a stream.
func (a *MongoAdapter) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}

	var stream streamDocument
	err := a.db.Collection(CollectionStreams).FindOne(ctx, bson.M{"_id": streamID}).Decode(&stream)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, adapters.NewStreamNotFoundError(streamID)
	}
	if err != nil {
		return nil, wrap("get stream info", err)
	}

	return &adapters.StreamInfo{
		StreamID:   stream.StreamID,
		Category:   stream.Category,
		Version:    stream.Version,
		EventCount: stream.Version,
		CreatedAt:  stream.CreatedAt.UTC(),
		UpdatedAt:  stream.UpdatedAt.UTC(),
	}, nil
}

// GetLastPosition returns the global position of the last stored event.
func (a *MongoAdapter) GetLastPosition(ctx context.Context) (uint64, error) {
	if a.closed.Load() {
		return 0, adapters.ErrAdapterClosed
	}

	var doc struct {
		GlobalPosition int64 `bson:"_id"`
	}
	err := a.db.Collection(CollectionEvents).FindOne(ctx, bson.M{},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}).SetProjection(bson.M{"_id": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap("get last position", err)
	}
	return uint64(doc.GlobalPosition), nil // #nosec G115 - counter starts at 1
}

// Ping checks connectivity.
func (a *MongoAdapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	return wrap("ping", a.client.Ping(ctx, nil))
}

// Close marks the adapter closed and disconnects the client if the adapter created it.
func (a *MongoAdapter) Close() error {
	if a.closed.Swap(true) || !a.ownsClient {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.client.Disconnect(ctx)
}

// wrap annotates a driver error. Network failures and timeouts become
// adapters.StorageError so callers can retry them.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return adapters.Unavailable("mongodb "+op, err)
	}
	var labeled mongo.LabeledError
	if errors.As(err, &labeled) && labeled.HasErrorLabel("TransientTransactionError") {
		return adapters.Unavailable("mongodb "+op, err)
	}
	return fmt.Errorf("occurrent/mongodb: %s: %w", op, err)
}
