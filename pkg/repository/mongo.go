package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/example/fulfillment/pkg/config"
)

// EventLog is the fulfillment audit trail in MongoDB: job executions, carrier
// webhooks and compensations, for out-of-band reconciliation. Writes are
// best-effort and never affect the primary flow.
type EventLog struct {
	client   *mongo.Client
	database *mongo.Database
	config   *config.MongoDBConfig
	logger   *zap.Logger
}

func NewEventLog(cfg *config.MongoDBConfig, logger *zap.Logger) (*EventLog, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}

	return &EventLog{
		client:   client,
		database: client.Database(cfg.Database),
		config:   cfg,
		logger:   logger,
	}, nil
}

func (l *EventLog) Ping(ctx context.Context) error {
	return l.client.Ping(ctx, nil)
}

func (l *EventLog) Close(ctx context.Context) error {
	return l.client.Disconnect(ctx)
}

type FulfillmentEvent struct {
	ID        string    `bson:"_id,omitempty"`
	Kind      string    `bson:"kind"`
	EntityID  string    `bson:"entity_id"`
	Data      bson.M    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
}

func (l *EventLog) Record(ctx context.Context, event *FulfillmentEvent) error {
	collection := l.database.Collection(l.config.Collection)
	event.CreatedAt = time.Now()
	_, err := collection.InsertOne(ctx, event)
	return err
}

// RecordAsync logs the event without blocking the caller; failures only warn.
func (l *EventLog) RecordAsync(kind, entityID string, data bson.M) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Record(ctx, &FulfillmentEvent{Kind: kind, EntityID: entityID, Data: data}); err != nil {
			l.logger.Warn("failed to record fulfillment event",
				zap.String("kind", kind),
				zap.String("entity_id", entityID),
				zap.Error(err))
		}
	}()
}

// Recent returns the latest events for an entity, newest first.
func (l *EventLog) Recent(ctx context.Context, entityID string, limit int64) ([]*FulfillmentEvent, error) {
	collection := l.database.Collection(l.config.Collection)

	filter := bson.M{"entity_id": entityID}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []*FulfillmentEvent
	if err = cursor.All(ctx, &events); err != nil {
		return nil, err
	}

	return events, nil
}
