package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

type positionDocument struct {
	SubscriptionID string    `bson:"_id"`
	Position       int64     `bson:"position"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

type viewDocument struct {
	Projection string    `bson:"projection"`
	Key        string    `bson:"key"`
	Version    int64     `bson:"version"`
	Data       []byte    `bson:"data"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func (d viewDocument) record() adapters.ViewRecord {
	return adapters.ViewRecord{
		Projection: d.Projection,
		Key:        d.Key,
		Version:    d.Version,
		Data:       d.Data,
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
}

// GetPosition returns the stored position of a subscription.
func (a *MongoAdapter) GetPosition(ctx context.Context, subscriptionID string) (uint64, bool, error) {
	if a.closed.Load() {
		return 0, false, adapters.ErrAdapterClosed
	}
	if subscriptionID == "" {
		return 0, false, adapters.ErrEmptyKey
	}

	var doc positionDocument
	err := a.db.Collection(CollectionPositions).FindOne(ctx, bson.M{"_id": subscriptionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("get position", err)
	}
	return uint64(doc.Position), true, nil // #nosec G115 - stored from uint64
}

// SetPosition stores the position of a subscription.
func (a *MongoAdapter) SetPosition(ctx context.Context, subscriptionID string, position uint64) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	if subscriptionID == "" {
		return adapters.ErrEmptyKey
	}

	_, err := a.db.Collection(CollectionPositions).ReplaceOne(ctx,
		bson.M{"_id": subscriptionID},
		positionDocument{
			SubscriptionID: subscriptionID,
			Position:       int64(position), // #nosec G115 - positions fit int64
			UpdatedAt:      time.Now().UTC(),
		},
		options.Replace().SetUpsert(true),
	)
	return wrap("set position", err)
}

// DeletePosition removes the stored position of a subscription.
func (a *MongoAdapter) DeletePosition(ctx context.Context, subscriptionID string) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}

	_, err := a.db.Collection(CollectionPositions).DeleteOne(ctx, bson.M{"_id": subscriptionID})
	return wrap("delete position", err)
}

// GetView returns the view stored under projection and key, or nil.
func (a *MongoAdapter) GetView(ctx context.Context, projection, key string) (*adapters.ViewRecord, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}
	if projection == "" || key == "" {
		return nil, adapters.ErrEmptyKey
	}

	var doc viewDocument
	err := a.db.Collection(CollectionViews).FindOne(ctx, bson.M{"projection": projection, "key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get view", err)
	}
	record := doc.record()
	return &record, nil
}

// SaveView inserts or replaces a view together with its version.
func (a *MongoAdapter) SaveView(ctx context.Context, record adapters.ViewRecord) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}
	if record.Projection == "" || record.Key == "" {
		return adapters.ErrEmptyKey
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}

	_, err := a.db.Collection(CollectionViews).ReplaceOne(ctx,
		bson.M{"projection": record.Projection, "key": record.Key},
		viewDocument{
			Projection: record.Projection,
			Key:        record.Key,
			Version:    record.Version,
			Data:       record.Data,
			UpdatedAt:  record.UpdatedAt.UTC(),
		},
		options.Replace().SetUpsert(true),
	)
	return wrap("save view", err)
}

// ListViews returns every view of a projection ordered by key.
func (a *MongoAdapter) ListViews(ctx context.Context, projection string) ([]adapters.ViewRecord, error) {
	if a.closed.Load() {
		return nil, adapters.ErrAdapterClosed
	}

	cursor, err := a.db.Collection(CollectionViews).Find(ctx,
		bson.M{"projection": projection},
		options.Find().SetSort(bson.D{{Key: "key", Value: 1}}),
	)
	if err != nil {
		return nil, wrap("list views", err)
	}
	defer cursor.Close(ctx)

	var docs []viewDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrap("list views", err)
	}

	records := make([]adapters.ViewRecord, len(docs))
	for i, doc := range docs {
		records[i] = doc.record()
	}
	return records, nil
}

// DeleteViews removes every view of a projection.
func (a *MongoAdapter) DeleteViews(ctx context.Context, projection string) error {
	if a.closed.Load() {
		return adapters.ErrAdapterClosed
	}

	_, err := a.db.Collection(CollectionViews).DeleteMany(ctx, bson.M{"projection": projection})
	return wrap("delete views", err)
}
