package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"sentinel/core"
)

const (
	eventCollection    = "events"
	alertCollection    = "alerts"
	incidentCollection = "incidents"
)

// MongoStore implements EventStore, AlertStore and IncidentStore on a
// single MongoDB database.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewMongoStore connects, pings, and ensures the indexes the retention
// purge and alert queries rely on.
func NewMongoStore(ctx context.Context, uri, database string, timeout time.Duration, logger *zap.SugaredLogger) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := &MongoStore{
		client:  client,
		db:      client.Database(database),
		timeout: timeout,
		logger:  logger,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		logger.Warnw("failed to ensure mongodb indexes", "error", err)
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	byTimestamp := mongo.IndexModel{Keys: bson.D{{Key: "timestamp", Value: 1}}}
	if _, err := s.db.Collection(eventCollection).Indexes().CreateOne(ctx, byTimestamp); err != nil {
		return err
	}
	bySeverity := mongo.IndexModel{Keys: bson.D{{Key: "severity", Value: 1}, {Key: "timestamp", Value: -1}}}
	if _, err := s.db.Collection(alertCollection).Indexes().CreateOne(ctx, bySeverity); err != nil {
		return err
	}
	return nil
}

// SaveEvent inserts one event document.
func (s *MongoStore) SaveEvent(ctx context.Context, event *core.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.Collection(eventCollection).InsertOne(ctx, event); err != nil {
		return fmt.Errorf("save event %s: %w", event.ID, err)
	}
	return nil
}

// DeleteEventsBefore removes event documents older than the cutoff.
func (s *MongoStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.db.Collection(eventCollection).DeleteMany(ctx,
		bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("purge events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.DeletedCount, nil
}

// SaveAlert inserts one alert document.
func (s *MongoStore) SaveAlert(ctx context.Context, alert *core.Alert) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.Collection(alertCollection).InsertOne(ctx, alert); err != nil {
		return fmt.Errorf("save alert %s: %w", alert.ID, err)
	}
	return nil
}

// SaveIncident inserts one incident document.
func (s *MongoStore) SaveIncident(ctx context.Context, incident *core.Incident) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.Collection(incidentCollection).InsertOne(ctx, incident); err != nil {
		return fmt.Errorf("save incident %s: %w", incident.ID, err)
	}
	return nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
