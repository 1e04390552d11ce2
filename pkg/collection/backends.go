package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/heartline/keyset/pkg/config"
	"github.com/heartline/keyset/pkg/pagination"
	"github.com/heartline/keyset/pkg/repository"
	"github.com/heartline/keyset/pkg/store/dynamodb"
	"github.com/heartline/keyset/pkg/store/memory"
	"github.com/heartline/keyset/pkg/store/mongodb"
	"github.com/heartline/keyset/pkg/store/mysql"
	"github.com/heartline/keyset/pkg/store/opensearch"
	"github.com/heartline/keyset/pkg/store/postgres"
)

// Backends holds the connected adapters configured collections are served
// from. Only the adapter matching DatabaseType needs to be set; Search is
// required by collections on the search backend.
type Backends struct {
	DatabaseType string
	Postgres     *postgres.Adapter
	MySQL        *mysql.Adapter
	Mongo        *mongodb.Adapter
	Dynamo       *dynamodb.Adapter
	Search       opensearch.Searcher
}

// CodecOptions returns the cursor value codecs the database needs beyond
// the built-in kinds.
func (b Backends) CodecOptions() []pagination.CodecOption {
	if b.DatabaseType == config.DatabaseTypeMongoDB {
		return []pagination.CodecOption{pagination.WithValueCodec(mongodb.ObjectIDCodec{})}
	}
	return nil
}

// DocumentStore opens the store behind a configured collection.
func (b Backends) DocumentStore(cfg config.CollectionConfig) (Store[Document], error) {
	source := cfg.Source
	if source == "" {
		source = cfg.Name
	}
	types := FieldTypes(cfg)

	if cfg.Backend == "search" {
		if b.Search == nil {
			return nil, fmt.Errorf("collection %s: search is not configured", cfg.Name)
		}
		index, err := opensearch.NewIndex[Document](b.Search, source, nil)
		if err != nil {
			return nil, err
		}
		return transform(index, coerceDocument(types)), nil
	}

	switch b.DatabaseType {
	case config.DatabaseTypeMemory, "":
		docs, err := loadSeed(cfg.Seed, types)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", cfg.Name, err)
		}
		return memory.NewCollection(source, memory.Documents[Document](), docs...), nil

	case config.DatabaseTypePostgres, config.DatabaseTypeMySQL:
		columns := Columns(cfg)
		mapper, err := repository.NewDocumentMapper(fieldNames(cfg), columns)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", cfg.Name, err)
		}
		var table *repository.Table[Document]
		if b.DatabaseType == config.DatabaseTypePostgres {
			if b.Postgres == nil {
				return nil, errors.New("postgres adapter is not connected")
			}
			table, err = postgres.NewTable[Document](b.Postgres, source, columns, mapper)
		} else {
			if b.MySQL == nil {
				return nil, errors.New("mysql adapter is not connected")
			}
			table, err = mysql.NewTable[Document](b.MySQL, source, columns, mapper)
		}
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", cfg.Name, err)
		}
		return table, nil

	case config.DatabaseTypeMongoDB:
		if b.Mongo == nil {
			return nil, errors.New("mongodb adapter is not connected")
		}
		lookups := make([]mongodb.Lookup, len(cfg.Lookups))
		for i, l := range cfg.Lookups {
			lookups[i] = mongodb.Lookup{From: l.From, LocalField: l.LocalField, ForeignField: l.ForeignField, As: l.As}
		}
		return transform(mongodb.NewCollection[Document](b.Mongo, source, lookups...), normalizeBSON), nil

	case config.DatabaseTypeDynamoDB:
		if b.Dynamo == nil {
			return nil, errors.New("dynamodb adapter is not connected")
		}
		attrs := Columns(cfg)
		fieldOf := make(map[string]string, len(attrs))
		for f, a := range attrs {
			fieldOf[a] = f
		}
		attr := func(f string) string {
			if a, ok := attrs[f]; ok {
				return a
			}
			return f
		}
		coll, err := dynamodb.NewTableCollection[Document](b.Dynamo, dynamodb.TableConfig{
			Table:           source,
			Index:           cfg.SecondaryIndex,
			PartitionKey:    attr(cfg.PartitionKey),
			SortKey:         attr(IDField(cfg)),
			FieldAttributes: attrs,
		}, func(raw map[string]any) (Document, error) {
			doc := make(Document, len(raw))
			for k, v := range raw {
				if f, ok := fieldOf[k]; ok {
					k = f
				}
				doc[k] = Coerce(types[k], v)
			}
			return doc, nil
		})
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", cfg.Name, err)
		}
		return coll, nil
	}
	return nil, fmt.Errorf("unsupported database type %q", b.DatabaseType)
}

func fieldNames(cfg config.CollectionConfig) []string {
	out := make([]string, len(cfg.Fields))
	for i, f := range cfg.Fields {
		out[i] = f.Name
	}
	return out
}

// loadSeed reads a JSON array of documents, coercing declared fields.
func loadSeed(path string, types map[string]string) ([]Document, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed: %w", err)
	}
	var docs []Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse seed %s: %w", path, err)
	}
	coerce := coerceDocument(types)
	for i := range docs {
		docs[i] = coerce(docs[i])
	}
	return docs, nil
}

func coerceDocument(types map[string]string) func(Document) Document {
	return func(doc Document) Document {
		for f, typ := range types {
			if v, ok := doc[f]; ok {
				doc[f] = Coerce(typ, v)
			}
		}
		return doc
	}
}

// normalizeBSON replaces driver value types with plain Go values so sort
// accessors, cursors and JSON responses see times and slices.
func normalizeBSON(doc Document) Document {
	for k, v := range doc {
		doc[k] = plainBSON(v)
	}
	return doc
}

func plainBSON(v any) any {
	switch x := v.(type) {
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(x.T), 0).UTC()
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plainBSON(e)
		}
		return out
	case primitive.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = plainBSON(e.Value)
		}
		return m
	case map[string]any:
		return normalizeBSON(x)
	}
	return v
}

// transformed applies fn to every record a store returns.
type transformed[T any] struct {
	Store[T]
	fn func(T) T
}

func transform[T any](s Store[T], fn func(T) T) Store[T] {
	return &transformed[T]{Store: s, fn: fn}
}

func (t *transformed[T]) Find(ctx context.Context, q pagination.Query) ([]T, error) {
	items, err := t.Store.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i] = t.fn(items[i])
	}
	return items, nil
}

func (t *transformed[T]) Stream(ctx context.Context, q pagination.StreamQuery) (pagination.RecordCursor[T], error) {
	cur, err := t.Store.Stream(ctx, q)
	if err != nil {
		return nil, err
	}
	return &transformedCursor[T]{RecordCursor: cur, fn: t.fn}, nil
}

type transformedCursor[T any] struct {
	pagination.RecordCursor[T]
	fn func(T) T
}

func (c *transformedCursor[T]) Current() T {
	return c.fn(c.RecordCursor.Current())
}
