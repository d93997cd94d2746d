package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gebre-tech/backend/internal/domain"
)

type MongoMessageStore struct {
	col *mongo.Collection
}

func NewMongoMessageStore(col *mongo.Collection) *MongoMessageStore {
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
		Options: options.Index().SetName("conversation_created_idx"),
	}
	_, _ = col.Indexes().CreateOne(context.Background(), idx)
	return &MongoMessageStore{col: col}
}

func (s *MongoMessageStore) Insert(ctx context.Context, m *domain.Message) error {
	if _, err := s.col.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *MongoMessageStore) Get(ctx context.Context, id string) (*domain.Message, error) {
	var m domain.Message
	if err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *MongoMessageStore) findOneAndUpdate(ctx context.Context, id string, update bson.M) (*domain.Message, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var m domain.Message
	err := s.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *MongoMessageStore) SetContent(ctx context.Context, id, content string, env *domain.CryptoEnvelope, editedAt time.Time) (*domain.Message, error) {
	set := bson.M{"content": content, "edited_at": editedAt}
	if env != nil {
		set["envelope"] = env
	}
	return s.findOneAndUpdate(ctx, id, bson.M{"$set": set})
}

func (s *MongoMessageStore) Tombstone(ctx context.Context, id string) (*domain.Message, error) {
	update := bson.M{
		"$set":   bson.M{"deleted": true, "content": domain.TombstoneContent},
		"$unset": bson.M{"attachment": "", "envelope": ""},
	}
	return s.findOneAndUpdate(ctx, id, update)
}

func (s *MongoMessageStore) SetReaction(ctx context.Context, id, userID, emoji string) (*domain.Message, error) {
	field := "reactions." + userID
	var update bson.M
	if emoji == "" {
		update = bson.M{"$unset": bson.M{field: ""}}
	} else {
		update = bson.M{"$set": bson.M{field: emoji}}
	}
	return s.findOneAndUpdate(ctx, id, update)
}

func (s *MongoMessageStore) AddReadReceipt(ctx context.Context, id string, r domain.ReadReceipt) (*domain.Message, error) {
	filter := bson.M{"_id": id, "read_by.user_id": bson.M{"$ne": r.UserID}}
	_, err := s.col.UpdateOne(ctx, filter, bson.M{"$push": bson.M{"read_by": r}})
	if err != nil {
		return nil, err
	}
	// no-op when already read; either way return the current record
	return s.Get(ctx, id)
}

func (s *MongoMessageStore) SetPinned(ctx context.Context, id string, pinned bool) (*domain.Message, error) {
	return s.findOneAndUpdate(ctx, id, bson.M{"$set": bson.M{"pinned": pinned}})
}

func (s *MongoMessageStore) History(ctx context.Context, conversationID string, page, pageSize int) ([]*domain.Message, error) {
	page, pageSize = ClampPage(page, pageSize)
	skip := int64((page - 1) * pageSize)
	limit := int64(pageSize)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetSkip(skip).
		SetLimit(limit)
	cur, err := s.col.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*domain.Message
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}

type MongoConversationStore struct {
	col *mongo.Collection
}

func NewMongoConversationStore(col *mongo.Collection) *MongoConversationStore {
	// the unique pair key is authoritative for concurrent first-contact
	// between the same two users
	pairIdx := mongo.IndexModel{
		Keys: bson.D{{Key: "pair_key", Value: 1}},
		Options: options.Index().
			SetName("direct_pair_idx").
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"kind": domain.KindDirect}),
	}
	memberIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "participants", Value: 1}},
		Options: options.Index().SetName("participants_idx"),
	}
	_, _ = col.Indexes().CreateMany(context.Background(), []mongo.IndexModel{pairIdx, memberIdx})
	return &MongoConversationStore{col: col}
}

func (s *MongoConversationStore) Insert(ctx context.Context, c *domain.Conversation) error {
	if _, err := s.col.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *MongoConversationStore) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *MongoConversationStore) FindDirectByPairKey(ctx context.Context, pairKey string) (*domain.Conversation, error) {
	var c domain.Conversation
	filter := bson.M{"kind": domain.KindDirect, "pair_key": pairKey}
	if err := s.col.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *MongoConversationStore) ListForUser(ctx context.Context, userID string, kind domain.ConversationKind) ([]*domain.Conversation, error) {
	filter := bson.M{"participants": userID}
	if kind != "" {
		filter["kind"] = kind
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*domain.Conversation
	for cur.Next(ctx) {
		var c domain.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, cur.Err()
}

func (s *MongoConversationStore) update(ctx context.Context, id string, update bson.M) error {
	set, _ := update["$set"].(bson.M)
	if set == nil {
		set = bson.M{}
		update["$set"] = set
	}
	set["updated_at"] = time.Now().UTC()
	res, err := s.col.UpdateByID(ctx, id, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoConversationStore) AddParticipant(ctx context.Context, id, userID string) error {
	return s.update(ctx, id, bson.M{"$addToSet": bson.M{"participants": userID}})
}

func (s *MongoConversationStore) RemoveParticipant(ctx context.Context, id, userID string) error {
	return s.update(ctx, id, bson.M{"$pull": bson.M{"participants": userID, "admins": userID}})
}

func (s *MongoConversationStore) AddAdmin(ctx context.Context, id, userID string) error {
	return s.update(ctx, id, bson.M{"$addToSet": bson.M{"admins": userID}})
}

func (s *MongoConversationStore) RemoveAdmin(ctx context.Context, id, userID string) error {
	return s.update(ctx, id, bson.M{"$pull": bson.M{"admins": userID}})
}

func (s *MongoConversationStore) SetOwner(ctx context.Context, id, userID string) error {
	return s.update(ctx, id, bson.M{"$set": bson.M{"owner": userID}})
}

func (s *MongoConversationStore) SetPinnedMessage(ctx context.Context, id string, messageID *string) error {
	if messageID == nil {
		return s.update(ctx, id, bson.M{"$unset": bson.M{"pinned_message_id": ""}})
	}
	return s.update(ctx, id, bson.M{"$set": bson.M{"pinned_message_id": *messageID}})
}

func (s *MongoConversationStore) Delete(ctx context.Context, id string) error {
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
