package archive

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"clanity/entity"
	"clanity/internal/config"
)

const (
	collectionPurchaseEvents = "purchase_events"
	collectionLevelChanges   = "level_changes"
)

// MongoDB keeps an append-only archive of raw provider payloads and
// applied level changes. It is diagnostic storage only: reconciliation
// never reads from it, and a nil archive (Mongo disabled) is valid.
type MongoDB struct {
	ctx           context.Context
	clientOptions *options.ClientOptions
	database      string
}

func NewMongoClient(conf *config.Config) *MongoDB {
	if !conf.Mongo.Enabled {
		return nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	return &MongoDB{
		ctx:           context.Background(),
		clientOptions: clientOptions,
		database:      conf.Mongo.Database,
	}
}

func (m *MongoDB) connect() (*mongo.Client, error) {
	connection, err := mongo.Connect(m.ctx, m.clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	return connection, nil
}

func (m *MongoDB) disconnect(connection *mongo.Client) {
	_ = connection.Disconnect(m.ctx)
}

// SavePurchaseEvent archives one raw provider signal keyed by invoice id
// and receipt time, before any reconciliation decision is made.
func (m *MongoDB) SavePurchaseEvent(invoiceId string, payload []byte, receivedAt time.Time) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionPurchaseEvents)
	doc := bson.D{
		{Key: "invoice_id", Value: invoiceId},
		{Key: "received_at", Value: receivedAt.UTC()},
		{Key: "payload", Value: string(payload)},
	}
	_, err = collection.InsertOne(m.ctx, doc)
	return err
}

// SaveLevelChange archives an applied entitlement transition.
func (m *MongoDB) SaveLevelChange(change *entity.LevelChange) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionLevelChanges)
	_, err = collection.InsertOne(m.ctx, change)
	return err
}
