package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/alumnet/backend/internal/domain"
)

const usersCollection = "users"

// MongoUserDirectory reads the users collection owned by the account side
// of the platform. Chat never writes to it.
type MongoUserDirectory struct {
	users   *mongo.Collection
	timeout time.Duration
}

func NewMongoUserDirectory(db *mongo.Database, opTimeout time.Duration) *MongoUserDirectory {
	return &MongoUserDirectory{
		users:   db.Collection(usersCollection),
		timeout: opTimeout,
	}
}

func (d *MongoUserDirectory) GetUser(ctx context.Context, id string) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var u domain.User
	if err := d.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, storageErr("find user", err)
	}
	return &u, nil
}

func (d *MongoUserDirectory) GetUsers(ctx context.Context, ids []string) ([]*domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cur, err := d.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, storageErr("find users", err)
	}
	defer cur.Close(ctx)

	var out []*domain.User
	for cur.Next(ctx) {
		var u domain.User
		if err := cur.Decode(&u); err != nil {
			return nil, storageErr("decode user", err)
		}
		out = append(out, &u)
	}
	if err := cur.Err(); err != nil {
		return nil, storageErr("iterate users", err)
	}
	return out, nil
}

var _ domain.UserDirectory = (*MongoUserDirectory)(nil)
