package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messagesCollection = "messages"

// MongoConfig holds the MongoDB connection settings.
type MongoConfig struct {
	URI         string
	Database    string
	MaxPoolSize uint64
}

// Mongo stores messages in the "messages" collection.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

type mongoMessage struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Sender    any                `bson:"sender"`
	Recipient any                `bson:"recipient"`
	Text      string             `bson:"text,omitempty"`
	File      string             `bson:"file,omitempty"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

// NewMongo connects, pings and makes sure the conversation index exists.
func NewMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	m := &Mongo{
		client: cli,
		coll:   cli.Database(cfg.Database).Collection(messagesCollection),
		now:    time.Now,
	}
	_, err = m.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "sender", Value: 1}, {Key: "recipient", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure message index: %w", err)
	}
	return m, nil
}

func (m *Mongo) Create(ctx context.Context, msg Message) (string, error) {
	doc := toMongoMessage(msg, m.now())
	res, err := m.coll.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("%w: unexpected id type %T", ErrStoreWrite, res.InsertedID)
	}
	return oid.Hex(), nil
}

func (m *Mongo) Conversation(ctx context.Context, a, b string) ([]Message, error) {
	cur, err := m.coll.Find(ctx, conversationFilter(a, b), options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	var docs []mongoMessage
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	out := make([]Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromMongoMessage(d))
	}
	return out, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// conversationFilter matches both directions. A hex user id matches both
// its ObjectId and string form, so documents written with ObjectId refs
// are found too.
func conversationFilter(a, b string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"sender": bson.M{"$in": partyForms(a)}, "recipient": bson.M{"$in": partyForms(b)}},
		bson.M{"sender": bson.M{"$in": partyForms(b)}, "recipient": bson.M{"$in": partyForms(a)}},
	}}
}

// partyRef stores a user id as an ObjectId when it is one, else as is.
func partyRef(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func partyForms(id string) bson.A {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.A{oid, id}
	}
	return bson.A{id}
}

func partyID(v any) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	}
	return ""
}

func toMongoMessage(msg Message, now time.Time) mongoMessage {
	return mongoMessage{
		Sender:    partyRef(msg.Sender),
		Recipient: partyRef(msg.Recipient),
		Text:      msg.Text,
		File:      msg.File,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func fromMongoMessage(d mongoMessage) Message {
	return Message{
		ID:        d.ID.Hex(),
		Sender:    partyID(d.Sender),
		Recipient: partyID(d.Recipient),
		Text:      d.Text,
		File:      d.File,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
