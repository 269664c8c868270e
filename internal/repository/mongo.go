package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/alumnet/backend/internal/domain"
)

const chatsCollection = "chats"

// MongoChatRepository implements domain.ChatRepository on a chats
// collection. The chat document is the unit of consistency: Save is a
// conditional replace on an unchanged version token.
type MongoChatRepository struct {
	chats   *mongo.Collection
	timeout time.Duration
}

func NewMongoChatRepository(db *mongo.Database, opTimeout time.Duration) *MongoChatRepository {
	return &MongoChatRepository{
		chats:   db.Collection(chatsCollection),
		timeout: opTimeout,
	}
}

// EnsureIndexes creates the indexes the chat queries rely on. The unique
// sparse index on pair_key is what makes FindOrCreateIndividual race-safe.
func (r *MongoChatRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	_, err := r.chats.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("pair_key_unique"),
		},
		{
			Keys:    bson.D{{Key: "participants", Value: 1}},
			Options: options.Index().SetName("participants_idx"),
		},
		{
			Keys:    bson.D{{Key: "metadata.last_activity", Value: -1}},
			Options: options.Index().SetName("last_activity_idx"),
		},
	})
	if err != nil {
		return storageErr("create indexes", err)
	}
	return nil
}

func (r *MongoChatRepository) FindChatsForUser(ctx context.Context, userID string) ([]*domain.Chat, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	filter := bson.M{"participants": userID, "is_active": true}
	opts := options.Find().SetSort(bson.D{{Key: "metadata.last_activity", Value: -1}})
	cur, err := r.chats.Find(ctx, filter, opts)
	if err != nil {
		return nil, storageErr("find chats", err)
	}
	defer cur.Close(ctx)

	var out []*domain.Chat
	for cur.Next(ctx) {
		var c domain.Chat
		if err := cur.Decode(&c); err != nil {
			return nil, storageErr("decode chat", err)
		}
		out = append(out, &c)
	}
	if err := cur.Err(); err != nil {
		return nil, storageErr("iterate chats", err)
	}
	return out, nil
}

func (r *MongoChatRepository) FindChatByID(ctx context.Context, id string) (*domain.Chat, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	var c domain.Chat
	if err := r.chats.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, storageErr("find chat", err)
	}
	return &c, nil
}

// FindOrCreateIndividual is idempotent per unordered pair: the insert races
// against the unique pair_key index, and the loser re-reads the winner.
func (r *MongoChatRepository) FindOrCreateIndividual(ctx context.Context, userA, userB string) (*domain.Chat, error) {
	key := pairKey(userA, userB)

	if chat, err := r.findByPairKey(ctx, key); err == nil {
		return chat, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	chat, err := domain.NewIndividualChat(userA, userB)
	if err != nil {
		return nil, err
	}
	chat.PairKey = key

	insertCtx, cancel := r.bound(ctx)
	defer cancel()
	if _, err := r.chats.InsertOne(insertCtx, chat); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return r.findByPairKey(ctx, key)
		}
		return nil, storageErr("create individual chat", err)
	}
	return chat, nil
}

func (r *MongoChatRepository) findByPairKey(ctx context.Context, key string) (*domain.Chat, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	var c domain.Chat
	err := r.chats.FindOne(ctx, bson.M{"kind": domain.ChatKindIndividual, "pair_key": key}).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, storageErr("find individual chat", err)
	}
	return &c, nil
}

func (r *MongoChatRepository) Create(ctx context.Context, chat *domain.Chat) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	if _, err := r.chats.InsertOne(ctx, chat); err != nil {
		return storageErr("create chat", err)
	}
	return nil
}

// Save persists the full aggregate under optimistic concurrency: the
// replace matches only if the stored version is the one the caller read.
func (r *MongoChatRepository) Save(ctx context.Context, chat *domain.Chat) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	next := *chat
	next.Version = chat.Version + 1

	res, err := r.chats.ReplaceOne(ctx, bson.M{"_id": chat.ID, "version": chat.Version}, &next)
	if err != nil {
		return storageErr("save chat", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrVersionConflict
	}
	chat.Version = next.Version
	return nil
}

// Ping reports store reachability for health checks.
func (r *MongoChatRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.bound(ctx)
	defer cancel()
	return r.chats.Database().Client().Ping(ctx, nil)
}

func (r *MongoChatRepository) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, err)
}

// pairKey canonicalizes an unordered user-id pair.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return strings.Join([]string{a, b}, "|")
}

// interface guard
var _ domain.ChatRepository = (*MongoChatRepository)(nil)
