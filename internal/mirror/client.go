package mirror

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Client is the MongoDB-backed mirror store. Constructed once at process
// start and passed explicitly to the sync bridge.
type Client struct {
	client   *mongo.Client
	rooms    *mongo.Collection
	messages *mongo.Collection
}

var _ Store = (*Client)(nil)

// Connect dials the mirror database and verifies connectivity.
func Connect(uri, database string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	db := client.Database(database)
	log.Printf("mirror store connected database=%s", database)
	return &Client{
		client:   client,
		rooms:    db.Collection("rooms"),
		messages: db.Collection("room_messages"),
	}, nil
}

// Close disconnects from the mirror database.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// GetRoom fetches a room document by id.
func (c *Client) GetRoom(ctx context.Context, roomID string) (RoomDoc, error) {
	var doc RoomDoc
	err := c.rooms.FindOne(ctx, bson.M{"_id": roomID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return RoomDoc{}, ErrDocNotFound
	}
	return doc, err
}

// FindRoomByPairKey locates a private room document by its canonical pair
// key. Covers legacy documents created under a foreign id.
func (c *Client) FindRoomByPairKey(ctx context.Context, pairKey string) (RoomDoc, error) {
	var doc RoomDoc
	err := c.rooms.FindOne(ctx, bson.M{"pairKey": pairKey}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return RoomDoc{}, ErrDocNotFound
	}
	return doc, err
}

// CreateRoom upserts a room document under its id, merging with anything a
// client may have written concurrently.
func (c *Client) CreateRoom(ctx context.Context, doc RoomDoc) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	id := doc.ID
	if id == "" {
		id = uuid.NewString()
		doc.ID = id
	}
	_, err := c.rooms.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	return err
}

// MergeRoom applies a partial update to a room document. Dotted field paths
// reach inside memberMeta without clobbering sibling entries.
func (c *Client) MergeRoom(ctx context.Context, roomID string, fields map[string]any) error {
	set := bson.M{"updatedAt": time.Now().UTC()}
	for k, v := range fields {
		set[k] = v
	}
	_, err := c.rooms.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.M{"$set": set},
		options.Update().SetUpsert(true),
	)
	return err
}

// AddRoomMembers unions uids into members and seeds empty memberMeta stubs
// for any uid that has none.
func (c *Client) AddRoomMembers(ctx context.Context, roomID string, uids []string) error {
	if len(uids) == 0 {
		return nil
	}
	update := bson.M{
		"$addToSet": bson.M{"members": bson.M{"$each": uids}},
		"$set":      bson.M{"updatedAt": time.Now().UTC()},
	}
	if _, err := c.rooms.UpdateOne(ctx, bson.M{"_id": roomID}, update); err != nil {
		return err
	}

	// Seed missing memberMeta entries only; existing metadata is
	// client-authored and must survive.
	for _, uid := range uids {
		filter := bson.M{"_id": roomID, "memberMeta." + uid: bson.M{"$exists": false}}
		set := bson.M{"$set": bson.M{"memberMeta." + uid: MemberMeta{}}}
		if _, err := c.rooms.UpdateOne(ctx, filter, set); err != nil {
			return err
		}
	}
	return nil
}

// RemoveRoomMember pulls a uid out of members and drops its metadata.
func (c *Client) RemoveRoomMember(ctx context.Context, roomID string, uid string) error {
	update := bson.M{
		"$pull":  bson.M{"members": uid},
		"$unset": bson.M{"memberMeta." + uid: ""},
		"$set":   bson.M{"updatedAt": time.Now().UTC()},
	}
	_, err := c.rooms.UpdateOne(ctx, bson.M{"_id": roomID}, update)
	return err
}

// CreateMessage inserts a message document with a client-generated id and a
// mirror-side createdAt, returning the assigned id.
func (c *Client) CreateMessage(ctx context.Context, doc MessageDoc) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.HiddenFor == nil {
		doc.HiddenFor = []string{}
	}
	if _, err := c.messages.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return doc.ID, nil
}

// ListMessages returns up to limit messages for a room, newest first.
func (c *Client) ListMessages(ctx context.Context, roomID string, limit int) ([]MessageDoc, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := c.messages.Find(ctx, bson.M{"room_id": roomID}, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var docs []MessageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// ListMessagesUnordered scans all messages for a room with no sort. Fallback
// path for when the ordered query fails.
func (c *Client) ListMessagesUnordered(ctx context.Context, roomID string) ([]MessageDoc, error) {
	cursor, err := c.messages.Find(ctx, bson.M{"room_id": roomID})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var docs []MessageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// MergeMessage applies a partial update to a message document.
func (c *Client) MergeMessage(ctx context.Context, messageID string, fields map[string]any) error {
	set := bson.M{}
	for k, v := range fields {
		set[k] = v
	}
	_, err := c.messages.UpdateOne(ctx, bson.M{"_id": messageID}, bson.M{"$set": set})
	return err
}

// AddMessageHiddenFor unions a uid into the message's hiddenFor list.
func (c *Client) AddMessageHiddenFor(ctx context.Context, messageID string, uid string) error {
	_, err := c.messages.UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$addToSet": bson.M{"hiddenFor": uid}},
	)
	return err
}
