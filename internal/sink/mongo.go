package sink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/eddydb/eddy-go/internal/model"
)

const duplicateKeyCode = 11000

// MongoSink writes change events to a collection, one document per event
// keyed by the event id. Inserts are unordered and duplicate keys are
// tolerated, so re-delivered batches are free.
type MongoSink struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

// NewMongoSink wraps a mongo client. The sink owns the client and
// disconnects it on Close.
func NewMongoSink(client *mongo.Client, database, collection string, logger *slog.Logger) *MongoSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoSink{
		client: client,
		coll:   client.Database(database).Collection(collection),
		logger: logger.With("sink", "mongo"),
	}
}

// Name identifies the sink.
func (s *MongoSink) Name() string { return "mongo" }

// Write inserts a batch of events.
func (s *MongoSink) Write(ctx context.Context, events []model.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()

	docs := make([]any, len(events))
	for i, ev := range events {
		docs[i] = bson.D{
			{Key: "_id", Value: ev.EventID.String()},
			{Key: "table", Value: ev.Table},
			{Key: "record_id", Value: ev.RecordID},
			{Key: "action", Value: ev.Action},
			{Key: "payload", Value: decodePayload(ev.Payload)},
			{Key: "received_at", Value: ev.ReceivedAt},
			{Key: "source", Value: ev.Source},
		}
	}

	_, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	conflicts := 0
	if err != nil {
		var bwe mongo.BulkWriteException
		if !errors.As(err, &bwe) {
			return err
		}
		for _, we := range bwe.WriteErrors {
			if we.Code != duplicateKeyCode {
				return err
			}
			conflicts++
		}
	}

	s.logger.Debug("wrote batch",
		"count", len(events),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// Close disconnects the client.
func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// decodePayload turns the record JSON into a real sub-document so it stays
// queryable; undecodable payloads are stored as raw strings.
func decodePayload(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	var doc bson.M
	if err := bson.UnmarshalExtJSON(payload, false, &doc); err != nil {
		return string(payload)
	}
	return doc
}
