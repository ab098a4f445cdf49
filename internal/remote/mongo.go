package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"healthtrack/syncd/internal/document"
)

// MongoStore stores each resource as a MongoDB collection. Record ids map to
// _id; ids that parse as ObjectIDs are stored as ObjectIDs.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func ConnectMongo(ctx context.Context, uri string, database string) (*MongoStore, error) {
	if uri == "" || database == "" {
		return nil, errors.New("mongo uri and database are required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Create(ctx context.Context, collection string, doc document.Doc) (string, error) {
	native := toNative(doc)
	if id, ok := doc.ID(); ok {
		delete(native, document.IDField)
		native["_id"] = mongoID(id)
	}
	result, err := s.db.Collection(collection).InsertOne(ctx, native)
	if err != nil {
		return "", classify(fmt.Errorf("insert %s: %w", collection, err))
	}
	return idString(result.InsertedID), nil
}

func (s *MongoStore) Update(ctx context.Context, collection string, id string, fields document.Doc) error {
	native := toNative(fields)
	delete(native, document.IDField)
	result, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": mongoID(id)}, bson.M{"$set": native})
	if err != nil {
		return classify(fmt.Errorf("update %s/%s: %w", collection, id, err))
	}
	if result.MatchedCount == 0 {
		return Permanent(fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound))
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, collection string, id string) error {
	result, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": mongoID(id)})
	if err != nil {
		return classify(fmt.Errorf("delete %s/%s: %w", collection, id, err))
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("delete %s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) List(ctx context.Context, collection string) ([]document.Doc, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	docs := make([]document.Doc, len(raw))
	for i, m := range raw {
		docs[i] = fromNative(m)
	}
	return docs, nil
}

// toNative converts time.Time values to BSON datetimes.
func toNative(doc document.Doc) bson.M {
	converted := document.ConvertTimes(doc, func(t time.Time) any {
		return primitive.NewDateTimeFromTime(t)
	})
	if converted == nil {
		return bson.M{}
	}
	return bson.M(converted)
}

func fromNative(m bson.M) document.Doc {
	doc := document.Doc{}
	for key, value := range m {
		if key == "_id" {
			doc[document.IDField] = idString(value)
			continue
		}
		doc[key] = fromNativeValue(value)
	}
	return doc
}

func fromNativeValue(value any) any {
	switch v := value.(type) {
	case primitive.DateTime:
		return v.Time()
	case primitive.ObjectID:
		return v.Hex()
	case bson.M:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = fromNativeValue(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(v))
		for _, element := range v {
			out[element.Key] = fromNativeValue(element.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = fromNativeValue(item)
		}
		return out
	case int32:
		return int64(v)
	default:
		return value
	}
}

func mongoID(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func idString(value any) string {
	switch v := value.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// classify marks errors the store will keep rejecting as permanent.
func classify(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return Permanent(err)
	}
	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		for _, e := range writeErr.WriteErrors {
			// DocumentValidationFailure
			if e.Code == 121 {
				return Permanent(err)
			}
		}
	}
	return err
}
