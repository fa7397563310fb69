package internal

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/roiko/ev-server/utility"
)

const collectionLocks = "locks"

type lockDocument struct {
	Name    string    `bson:"_id"`
	Token   string    `bson:"token"`
	Expires time.Time `bson:"expires"`
}

// MongoLockService implements named exclusivity through unique _id inserts:
// the insert succeeds for exactly one contender, everyone else backs off.
type MongoLockService struct {
	db *MongoDB
}

func NewMongoLockService(db *MongoDB) *MongoLockService {
	return &MongoLockService{db: db}
}

func (s *MongoLockService) Acquire(name string, ttl time.Duration) (*LockHandle, error) {
	connection, err := s.db.connect()
	if err != nil {
		return nil, err
	}
	defer s.db.disconnect(connection)

	collection := connection.Database(s.db.database).Collection(collectionLocks)
	now := time.Now()

	// drop an expired holder before trying
	_, _ = collection.DeleteOne(s.db.ctx, bson.D{
		{Key: "_id", Value: name},
		{Key: "expires", Value: bson.D{{Key: "$lt", Value: now}}},
	})

	handle := &LockHandle{
		Name:    name,
		Token:   utility.NewUUID(),
		Expires: now.Add(ttl),
	}
	_, err = collection.InsertOne(s.db.ctx, lockDocument{
		Name:    handle.Name,
		Token:   handle.Token,
		Expires: handle.Expires,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, nil
		}
		return nil, err
	}
	return handle, nil
}

func (s *MongoLockService) Release(handle *LockHandle) error {
	if handle == nil {
		return nil
	}
	connection, err := s.db.connect()
	if err != nil {
		return err
	}
	defer s.db.disconnect(connection)

	collection := connection.Database(s.db.database).Collection(collectionLocks)
	_, err = collection.DeleteOne(s.db.ctx, bson.D{
		{Key: "_id", Value: handle.Name},
		{Key: "token", Value: handle.Token},
	})
	return err
}
