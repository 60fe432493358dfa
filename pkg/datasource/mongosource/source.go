// Package mongosource implements a MongoDB-backed source. Filters, sorts,
// and offset pagination are translated to native queries; cursor
// pagination fetches the filtered set and paginates through the evaluator.
package mongosource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nexlayer/nexlayer/pkg/datasource"
	"github.com/nexlayer/nexlayer/pkg/observability/logger"
	"github.com/nexlayer/nexlayer/pkg/query"
)

const defaultIDField = "_id"

// Config holds MongoDB source configuration.
type Config struct {
	URL        string
	Database   string
	Collection string
	// IDField is the document field holding the record identity.
	// Defaults to "_id".
	IDField          string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// Source is a DataSource backed by a MongoDB collection. Field names in
// queries must match the documents' bson field names; keep bson and json
// tags aligned with the accessor used on the cache side.
type Source[T any, ID comparable] struct {
	coll     *mongo.Collection
	client   *mongo.Client
	idField  string
	idFn     datasource.IDFunc[T, ID]
	accessor query.FieldAccessor[T]
	timeout  time.Duration
	log      logger.Logger
}

// New connects to MongoDB and verifies connectivity via ping.
func New[T any, ID comparable](cfg Config, idFn datasource.IDFunc[T, ID], accessor query.FieldAccessor[T], log logger.Logger) (*Source[T, ID], error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mongodb URL is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("mongodb database is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("mongodb collection is required")
	}
	if idFn == nil {
		return nil, fmt.Errorf("id function is required")
	}
	if cfg.IDField == "" {
		cfg.IDField = defaultIDField
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	if log == nil {
		log = logger.NewNop()
	}
	log.Info("mongodb source ready", "database", cfg.Database, "collection", cfg.Collection)

	return &Source[T, ID]{
		coll:     client.Database(cfg.Database).Collection(cfg.Collection),
		client:   client,
		idField:  cfg.IDField,
		idFn:     idFn,
		accessor: accessor,
		timeout:  cfg.OperationTimeout,
		log:      log,
	}, nil
}

// NewFromCollection wraps an existing collection. The caller keeps
// ownership of the client's lifecycle.
func NewFromCollection[T any, ID comparable](coll *mongo.Collection, idField string, idFn datasource.IDFunc[T, ID], accessor query.FieldAccessor[T]) *Source[T, ID] {
	if idField == "" {
		idField = defaultIDField
	}
	return &Source[T, ID]{
		coll:     coll,
		idField:  idField,
		idFn:     idFn,
		accessor: accessor,
		timeout:  5 * time.Second,
		log:      logger.NewNop(),
	}
}

// Close disconnects the owned client, if any.
func (s *Source[T, ID]) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *Source[T, ID]) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Get returns the record stored under id, or ErrNotFound.
func (s *Source[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	var record T
	err := s.coll.FindOne(opCtx, bson.M{s.idField: id}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return zero, datasource.ErrNotFound
	}
	if err != nil {
		return zero, datasource.NewNetworkError("mongodb find", true, err)
	}
	return record, nil
}

// GetAll evaluates the query natively where possible.
func (s *Source[T, ID]) GetAll(ctx context.Context, q query.Query) ([]T, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	filter := FilterDoc(q.Filters())

	if q.UsesCursor() {
		// Cursor positions are evaluator-defined, so fetch the filtered,
		// sorted set and let the evaluator paginate it.
		records, err := s.find(opCtx, filter, SortDoc(q.Orders()), 0, 0)
		if err != nil {
			return nil, err
		}
		return query.Apply(records, q, s.accessor).Items, nil
	}

	return s.find(opCtx, filter, SortDoc(q.Orders()), int64(q.Offset()), int64(q.Limit()))
}

func (s *Source[T, ID]) find(ctx context.Context, filter bson.M, sort bson.D, skip, limit int64) ([]T, error) {
	opts := options.Find()
	if len(sort) > 0 {
		opts.SetSort(sort)
	}
	if skip > 0 {
		opts.SetSkip(skip)
	}
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, datasource.NewNetworkError("mongodb find", true, err)
	}
	var records []T
	if err := cur.All(ctx, &records); err != nil {
		return nil, datasource.NewNetworkError("mongodb decode", true, err)
	}
	return records, nil
}

// Save upserts the record under its identity.
func (s *Source[T, ID]) Save(ctx context.Context, record T) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	id := s.idFn(record)
	_, err := s.coll.ReplaceOne(opCtx, bson.M{s.idField: id}, record, options.Replace().SetUpsert(true))
	if err != nil {
		return datasource.NewNetworkError("mongodb replace", true, err)
	}
	return nil
}

// SaveReturning upserts the record and returns the stored document, so the
// policy engine can detect server-side changes.
func (s *Source[T, ID]) SaveReturning(ctx context.Context, record T) (T, error) {
	var zero T
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	id := s.idFn(record)
	opts := options.FindOneAndReplace().SetUpsert(true).SetReturnDocument(options.After)
	var stored T
	err := s.coll.FindOneAndReplace(opCtx, bson.M{s.idField: id}, record, opts).Decode(&stored)
	if err != nil {
		return zero, datasource.NewNetworkError("mongodb replace", true, err)
	}
	return stored, nil
}

// Delete removes the record, reporting ErrNotFound for absent documents.
func (s *Source[T, ID]) Delete(ctx context.Context, id ID) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.coll.DeleteOne(opCtx, bson.M{s.idField: id})
	if err != nil {
		return datasource.NewNetworkError("mongodb delete", true, err)
	}
	if res.DeletedCount == 0 {
		return datasource.ErrNotFound
	}
	return nil
}

// Capabilities advertises native filtering.
func (s *Source[T, ID]) Capabilities() datasource.Capabilities {
	return datasource.Capabilities{SupportsNativeFiltering: true}
}
