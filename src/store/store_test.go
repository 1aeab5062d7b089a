package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMemoryCreateAssignsIDAndTimestamps(t *testing.T) {
	m := NewMemory()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	id, err := m.Create(context.Background(), Message{ID: "ignored", Sender: "u1", Recipient: "u2", Text: "hi"})
	require.NoError(t, err)
	assert.NotEqual(t, "ignored", id)

	all := m.All()
	require.Len(t, all, 1)
	assert.Equal(t, id, all[0].ID)
	assert.Equal(t, fixed, all[0].CreatedAt)
	assert.Equal(t, fixed, all[0].UpdatedAt)
}

func TestMemoryCreateHonoursCancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Create(ctx, Message{Sender: "u1", Recipient: "u2", Text: "hi"})
	assert.ErrorIs(t, err, ErrStoreWrite)
	assert.Empty(t, m.All())
}

func TestMemoryConversation(t *testing.T) {
	m := NewMemory()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	ctx := context.Background()

	for _, msg := range []Message{
		{Sender: "u1", Recipient: "u2", Text: "one"},
		{Sender: "u3", Recipient: "u1", Text: "other"},
		{Sender: "u2", Recipient: "u1", Text: "two"},
		{Sender: "u1", Recipient: "u1", Text: "self"},
		{Sender: "u1", Recipient: "u2", File: "f.png"},
	} {
		_, err := m.Create(ctx, msg)
		require.NoError(t, err)
	}

	conv, err := m.Conversation(ctx, "u2", "u1")
	require.NoError(t, err)
	require.Len(t, conv, 3)
	assert.Equal(t, "one", conv[0].Text)
	assert.Equal(t, "two", conv[1].Text)
	assert.Equal(t, "f.png", conv[2].File)

	none, err := m.Conversation(ctx, "u2", "u3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryConcurrentCreates(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Create(context.Background(), Message{Sender: "u1", Recipient: "u2", Text: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ids := make(map[string]bool)
	for _, msg := range m.All() {
		ids[msg.ID] = true
	}
	assert.Len(t, ids, 20)
}

func TestMemoryBlobsRejectsDuplicates(t *testing.T) {
	b := NewMemoryBlobs()
	ref, err := b.Put(context.Background(), "a.txt", []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", ref)

	_, err = b.Put(context.Background(), "a.txt", []byte("two"))
	assert.ErrorIs(t, err, ErrStoreWrite)

	data, ok := b.Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, "one", string(data))
}

func TestDiskPutAndPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	d, err := NewDisk(dir)
	require.NoError(t, err)

	ref, err := d.Put(context.Background(), "1700000000000-abc.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "1700000000000-abc.png", ref)

	path, err := d.Path(ref)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	_, err = d.Put(context.Background(), ref, []byte("again"))
	assert.ErrorIs(t, err, ErrStoreWrite, "existing files are never overwritten")
}

func TestDiskPathRejectsEscapes(t *testing.T) {
	d, err := NewDisk(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "../secret", "a/b.png", ".env", "..", "/etc/passwd"} {
		_, err := d.Path(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}

	_, err = d.Put(context.Background(), "../escape.txt", []byte("x"))
	assert.ErrorIs(t, err, ErrStoreWrite)
}

func TestMongoMessageConversion(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	doc := toMongoMessage(Message{ID: "client-set", Sender: "u1", Recipient: "u2", Text: "hi", File: "f.png"}, now)

	assert.True(t, doc.ID.IsZero(), "the database assigns the id")
	assert.Equal(t, now, doc.CreatedAt)
	assert.Equal(t, now, doc.UpdatedAt)

	doc.ID = primitive.NewObjectID()
	msg := fromMongoMessage(doc)
	assert.Equal(t, doc.ID.Hex(), msg.ID)
	assert.Equal(t, "u1", msg.Sender)
	assert.Equal(t, "u2", msg.Recipient)
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, "f.png", msg.File)
}

func TestMongoMessageOmitsEmptyFields(t *testing.T) {
	raw, err := bson.Marshal(toMongoMessage(Message{Sender: "u1", Recipient: "u2", Text: "hi"}, time.Now()))
	require.NoError(t, err)

	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.NotContains(t, doc, "_id")
	assert.NotContains(t, doc, "file")
	assert.Equal(t, "hi", doc["text"])
	assert.Contains(t, doc, "createdAt")
}

func TestConversationFilterMatchesBothDirections(t *testing.T) {
	f := conversationFilter("u1", "u2")
	or, ok := f["$or"].(bson.A)
	require.True(t, ok)
	assert.Equal(t, bson.A{
		bson.M{"sender": bson.M{"$in": bson.A{"u1"}}, "recipient": bson.M{"$in": bson.A{"u2"}}},
		bson.M{"sender": bson.M{"$in": bson.A{"u2"}}, "recipient": bson.M{"$in": bson.A{"u1"}}},
	}, or)
}

func TestMongoMessageStoresHexIDsAsObjectIDs(t *testing.T) {
	alice, bob := primitive.NewObjectID(), primitive.NewObjectID()
	doc := toMongoMessage(Message{Sender: alice.Hex(), Recipient: bob.Hex(), Text: "hi"}, time.Now())
	assert.Equal(t, alice, doc.Sender)
	assert.Equal(t, bob, doc.Recipient)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var decoded mongoMessage
	require.NoError(t, bson.Unmarshal(raw, &decoded))
	msg := fromMongoMessage(decoded)
	assert.Equal(t, alice.Hex(), msg.Sender)
	assert.Equal(t, bob.Hex(), msg.Recipient)

	or := conversationFilter(alice.Hex(), bob.Hex())["$or"].(bson.A)
	first := or[0].(bson.M)
	assert.Equal(t, bson.M{"$in": bson.A{alice, alice.Hex()}}, first["sender"])
	assert.Equal(t, bson.M{"$in": bson.A{bob, bob.Hex()}}, first["recipient"])
}

func TestNewMongoRequiresURI(t *testing.T) {
	_, err := NewMongo(context.Background(), MongoConfig{})
	assert.Error(t, err)
}
