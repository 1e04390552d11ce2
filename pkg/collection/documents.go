package collection

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/heartline/keyset/pkg/config"
	"github.com/heartline/keyset/pkg/pagination"
)

// Document is the record type of configured collections.
type Document = map[string]any

// reservedParams are listing parameters that cannot double as filters.
var reservedParams = []string{"cursor", "limit", "sortBy", "sortOrder", "select", "populate", "prefetch", "page"}

// ParseValue returns the parser for a declared field type. Unknown and
// empty types parse as strings.
func ParseValue(typ string) ParseFunc {
	switch typ {
	case "int":
		return func(raw string) (any, error) { return strconv.ParseInt(raw, 10, 64) }
	case "float":
		return func(raw string) (any, error) { return strconv.ParseFloat(raw, 64) }
	case "bool":
		return func(raw string) (any, error) { return strconv.ParseBool(raw) }
	case "time":
		return func(raw string) (any, error) { return time.Parse(time.RFC3339Nano, raw) }
	case "objectid":
		return func(raw string) (any, error) { return primitive.ObjectIDFromHex(raw) }
	default:
		return func(raw string) (any, error) { return raw, nil }
	}
}

// Coerce converts a decoded JSON value to the declared field type:
// whole float64 numbers become int64 and RFC 3339 strings become times.
// Values that do not fit are returned unchanged.
func Coerce(typ string, v any) any {
	switch typ {
	case "int":
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			return int64(f)
		}
	case "time":
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t
			}
		}
	}
	return v
}

// IDField returns the configured id field, "id" by default.
func IDField(cfg config.CollectionConfig) string {
	if cfg.IDField != "" {
		return cfg.IDField
	}
	return "id"
}

// DocumentID renders a document's id for prefetch hints, message keys and
// index document ids.
func DocumentID(field string) pagination.IDFunc[Document] {
	return func(doc Document) string {
		switch v := doc[field].(type) {
		case nil:
			return ""
		case string:
			return v
		case interface{ Hex() string }:
			return v.Hex()
		case time.Time:
			return v.UTC().Format(time.RFC3339Nano)
		default:
			return fmt.Sprint(pagination.Normalize(v))
		}
	}
}

// DocumentDefinition builds the definition of a configured collection over
// store. The id field is the unique tiebreaker and export key; fields with
// a sort direction are sortable; fields marked filter accept equality
// filters.
func DocumentDefinition(cfg config.CollectionConfig, store Store[Document]) (Definition[Document], error) {
	id := IDField(cfg)
	idDir := pagination.Asc
	var sortable []pagination.SortField[Document]
	filters := map[string]ParseFunc{}

	for _, f := range cfg.Fields {
		if f.Filter || f.Name == cfg.PartitionKey {
			if slices.Contains(reservedParams, f.Name) {
				return Definition[Document]{}, fmt.Errorf("collection %s: field %q cannot be filtered, the name is a listing parameter", cfg.Name, f.Name)
			}
			filters[f.Name] = ParseValue(f.Type)
		}
		if f.Sort == "" {
			continue
		}
		dir, err := pagination.ParseDirection(f.Sort)
		if err != nil {
			return Definition[Document]{}, fmt.Errorf("collection %s: field %q: %w", cfg.Name, f.Name, err)
		}
		if f.Name == id {
			idDir = dir
			continue
		}
		sortable = append(sortable, pagination.Field(f.Name, dir, pagination.Path[Document](f.Name)))
	}

	tiebreaker := pagination.Field(id, idDir, pagination.Path[Document](id)).Unique().NotNull()
	catalog, err := pagination.NewCatalog(tiebreaker, sortable...)
	if err != nil {
		return Definition[Document]{}, fmt.Errorf("collection %s: %w", cfg.Name, err)
	}
	if len(cfg.DefaultSort) > 0 {
		if catalog, err = catalog.WithDefault(cfg.DefaultSort...); err != nil {
			return Definition[Document]{}, fmt.Errorf("collection %s: %w", cfg.Name, err)
		}
	}

	def := Definition[Document]{
		Name:    cfg.Name,
		Store:   store,
		Catalog: catalog,
		Key:     tiebreaker.WithDirection(pagination.Asc),
		ID:      DocumentID(id),
		Filters: filters,
	}
	if cfg.PartitionKey != "" {
		def.Required = []string{cfg.PartitionKey}
	}
	return def, nil
}

// Columns maps public field names to physical columns for the fields that
// declare one.
func Columns(cfg config.CollectionConfig) map[string]string {
	out := map[string]string{}
	for _, f := range cfg.Fields {
		if f.Column != "" && f.Column != f.Name {
			out[f.Name] = f.Column
		}
	}
	return out
}

// FieldTypes maps field names to their declared types.
func FieldTypes(cfg config.CollectionConfig) map[string]string {
	out := make(map[string]string, len(cfg.Fields))
	for _, f := range cfg.Fields {
		out[f.Name] = strings.ToLower(f.Type)
	}
	return out
}
