package stubserver

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ucmc/clinic-client/internal/core/domain"
)

const usersCollection = "users"

const mongoConnectTimeout = 10 * time.Second

// MongoConfig captures the minimal settings for a MongoDB connection.
type MongoConfig struct {
	URI      string
	Database string
}

// ConnectMongo establishes a client, verifies connectivity with a ping, and
// returns both the client and the selected database.
func ConnectMongo(ctx context.Context, cfg MongoConfig) (*mongo.Client, *mongo.Database, error) {
	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(connectCtx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, client.Database(cfg.Database), nil
}

// MongoUsers is the Mongo-backed UserRepository.
type MongoUsers struct {
	coll *mongo.Collection
}

var _ UserRepository = (*MongoUsers)(nil)

func NewMongoUsers(db *mongo.Database) *MongoUsers {
	return &MongoUsers{coll: db.Collection(usersCollection)}
}

type mongoUser struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Email        string             `bson:"email"`
	Name         string             `bson:"nombre"`
	Surname      string             `bson:"apellidos"`
	PasswordHash string             `bson:"password_hash"`
	Role         string             `bson:"role"`
	StudentCode  string             `bson:"codigo_estudiante,omitempty"`
	Program      string             `bson:"programa_academico,omitempty"`
	Semester     int                `bson:"semestre,omitempty"`
	Phone        string             `bson:"telefono,omitempty"`
	Active       bool               `bson:"activo"`
	CreatedAt    int64              `bson:"created_at"`
}

func toMongoUser(u *domain.User) mongoUser {
	doc := mongoUser{
		Email:        u.Email,
		Name:         u.Name,
		Surname:      u.Surname,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		StudentCode:  u.StudentCode,
		Program:      u.Program,
		Semester:     u.Semester,
		Phone:        u.Phone,
		Active:       u.Active,
		CreatedAt:    u.CreatedAt.Unix(),
	}
	return doc
}

func (mu mongoUser) toDomain() *domain.User {
	u := &domain.User{
		ID:           mu.ID.Hex(),
		Email:        mu.Email,
		Name:         mu.Name,
		Surname:      mu.Surname,
		PasswordHash: mu.PasswordHash,
		Role:         mu.Role,
		StudentCode:  mu.StudentCode,
		Program:      mu.Program,
		Semester:     mu.Semester,
		Phone:        mu.Phone,
		Active:       mu.Active,
	}
	if mu.CreatedAt != 0 {
		u.CreatedAt = time.Unix(mu.CreatedAt, 0).UTC()
	}
	return u
}

func (r *MongoUsers) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	if _, err := r.FindByEmail(ctx, user.Email); err == nil {
		return nil, ErrUserExists
	}

	doc := toMongoUser(user)
	if doc.CreatedAt == 0 {
		doc.CreatedAt = time.Now().Unix()
	}
	res, err := r.coll.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, _ := res.InsertedID.(primitive.ObjectID)
	return r.FindByID(ctx, id.Hex())
}

func (r *MongoUsers) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var mu mongoUser
	if err := r.coll.FindOne(ctx, bson.M{"email": email}).Decode(&mu); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return mu.toDomain(), nil
}

func (r *MongoUsers) FindByID(ctx context.Context, id string) (*domain.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrUserNotFound
	}
	var mu mongoUser
	if err := r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&mu); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return mu.toDomain(), nil
}

func (r *MongoUsers) Update(ctx context.Context, user *domain.User) (*domain.User, error) {
	oid, err := primitive.ObjectIDFromHex(user.ID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	doc := toMongoUser(user)
	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": oid}, doc)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, ErrUserNotFound
	}
	return r.FindByID(ctx, user.ID)
}

func (r *MongoUsers) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrUserNotFound
	}
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *MongoUsers) ListByRole(ctx context.Context, role string) ([]domain.User, error) {
	cur, err := r.coll.Find(ctx, bson.M{"role": role})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cur.Close(ctx)

	var out []domain.User
	for cur.Next(ctx) {
		var mu mongoUser
		if err := cur.Decode(&mu); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		out = append(out, *mu.toDomain())
	}
	return out, cur.Err()
}
