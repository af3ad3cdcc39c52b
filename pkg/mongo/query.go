package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// QueryBuilder provides a fluent interface for MongoDB queries
type QueryBuilder struct {
	collection *mongo.Collection
	filter     bson.M
	sort       bson.D
	limit      *int64
	projection bson.M
}

// NewQuery creates a new query builder for a collection
func (c *Client) NewQuery(collectionName string) *QueryBuilder {
	return &QueryBuilder{
		collection: c.Collection(collectionName),
		filter:     bson.M{},
		projection: bson.M{},
	}
}

// Eq adds an equality filter
func (q *QueryBuilder) Eq(field string, value interface{}) *QueryBuilder {
	q.filter[field] = value
	return q
}

// Gte adds a greater than or equal filter
func (q *QueryBuilder) Gte(field string, value interface{}) *QueryBuilder {
	if existing, ok := q.filter[field].(bson.M); ok {
		existing["$gte"] = value
	} else {
		q.filter[field] = bson.M{"$gte": value}
	}
	return q
}

// Lte adds a less than or equal filter
func (q *QueryBuilder) Lte(field string, value interface{}) *QueryBuilder {
	if existing, ok := q.filter[field].(bson.M); ok {
		existing["$lte"] = value
	} else {
		q.filter[field] = bson.M{"$lte": value}
	}
	return q
}

// Sort sets the sort order
func (q *QueryBuilder) Sort(field string, ascending bool) *QueryBuilder {
	direction := 1
	if !ascending {
		direction = -1
	}
	q.sort = append(q.sort, bson.E{Key: field, Value: direction})
	return q
}

// Limit sets the limit
func (q *QueryBuilder) Limit(limit int64) *QueryBuilder {
	q.limit = &limit
	return q
}

// Find executes a find query and decodes results into out (a slice pointer).
func (q *QueryBuilder) Find(ctx context.Context, out interface{}) error {
	opts := options.Find()
	if q.limit != nil {
		opts.SetLimit(*q.limit)
	}
	if len(q.sort) > 0 {
		opts.SetSort(q.sort)
	}
	if len(q.projection) > 0 {
		opts.SetProjection(q.projection)
	}

	cursor, err := q.collection.Find(ctx, q.filter, opts)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	return cursor.All(ctx, out)
}

// FindOne executes a find one query and decodes into out.
// Returns mongo.ErrNoDocuments when nothing matches.
func (q *QueryBuilder) FindOne(ctx context.Context, out interface{}) error {
	opts := options.FindOne()
	if len(q.sort) > 0 {
		opts.SetSort(q.sort)
	}
	return q.collection.FindOne(ctx, q.filter, opts).Decode(out)
}

// Count returns the count of matching documents
func (q *QueryBuilder) Count(ctx context.Context) (int64, error) {
	return q.collection.CountDocuments(ctx, q.filter)
}

// Insert inserts a document
func (q *QueryBuilder) Insert(ctx context.Context, document interface{}) (interface{}, error) {
	result, err := q.collection.InsertOne(ctx, document)
	if err != nil {
		return nil, err
	}
	return result.InsertedID, nil
}

// UpdateOne updates a single matching document
func (q *QueryBuilder) UpdateOne(ctx context.Context, update interface{}) (*mongo.UpdateResult, error) {
	return q.collection.UpdateOne(ctx, q.filter, bson.M{"$set": update})
}

// Upsert updates or inserts a document matching the builder's filter.
func (q *QueryBuilder) Upsert(ctx context.Context, update interface{}) (*mongo.UpdateResult, error) {
	opts := options.Update().SetUpsert(true)
	return q.collection.UpdateOne(ctx, q.filter, bson.M{"$set": update}, opts)
}
