package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"ragbridge/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultMongoDatabase = "anp_users"
	usersCollection      = "users"
)

type MongoUsers struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoUsers connects to uri and uses the database named in its path, or
// anp_users when the path is empty.
func NewMongoUsers(ctx context.Context, uri string) (*MongoUsers, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	coll := client.Database(mongoDatabase(uri)).Collection(usersCollection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create email index: %w", err)
	}
	return &MongoUsers{client: client, collection: coll}, nil
}

func mongoDatabase(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultMongoDatabase
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return defaultMongoDatabase
}

func (m *MongoUsers) CreateUser(ctx context.Context, u models.User) error {
	if _, err := m.collection.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (m *MongoUsers) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := m.collection.FindOne(ctx, bson.M{"email": email}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (m *MongoUsers) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
