package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/pilab-dev/lectio/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ProfileStore implements domain.ProfileStore on top of MongoDB. Every
// collection name maps to a MongoDB collection and the key is stored as _id.
type ProfileStore struct {
	db *mongo.Database
}

var _ domain.ProfileStore = (*ProfileStore)(nil)

// NewProfileStore creates a profile store for db.
func NewProfileStore(db *mongo.Database) *ProfileStore {
	return &ProfileStore{db: db}
}

// WriteDocument replaces the document under key, or patches it when
// opts.Merge is set. Merging uses $set on dotted paths so nested maps are
// merged field by field. Both modes upsert.
func (s *ProfileStore) WriteDocument(ctx context.Context, collection, key string,
	doc domain.Document, opts domain.WriteOptions,
) error {
	if key == "" {
		return errors.New("profile store: empty document key")
	}

	coll := s.db.Collection(collection)
	filter := bson.M{"_id": key}

	body := domain.CloneDocument(doc)
	delete(body, "_id")

	if opts.Merge {
		set := domain.FlattenDocument(body)
		if len(set) == 0 {
			// Nothing to patch, but the document must still exist afterwards.
			update := bson.M{"$setOnInsert": bson.M{"_id": key}}
			if _, err := coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
				return backendError(fmt.Sprintf("merge %s/%s", collection, key), err)
			}
			return nil
		}

		update := bson.M{"$set": bson.M(set)}
		if _, err := coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
			return backendError(fmt.Sprintf("merge %s/%s", collection, key), err)
		}
		return nil
	}

	replacement := bson.M(body)
	replacement["_id"] = key
	if _, err := coll.ReplaceOne(ctx, filter, replacement, options.Replace().SetUpsert(true)); err != nil {
		return backendError(fmt.Sprintf("write %s/%s", collection, key), err)
	}
	return nil
}

// ReadDocument loads the document under key. Driver types are converted to
// plain Go values and _id is dropped.
func (s *ProfileStore) ReadDocument(ctx context.Context, collection, key string) (domain.Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": key}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, backendError(fmt.Sprintf("read %s/%s", collection, key), err)
	}
	return normalizeDocument(raw), nil
}
