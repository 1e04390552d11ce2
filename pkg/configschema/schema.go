// Package configschema describes the keyset configuration file as JSON
// Schema, for editors and for linting files before a deploy.
package configschema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/heartline/keyset/pkg/config"
)

const draft = "https://json-schema.org/draft/2020-12/schema"

// durationPattern accepts Go duration strings such as 500ms or 1h30m.
const durationPattern = `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$|^0$`

// requiredItems names the keys a collection or field entry must set. Every
// other key has a usable zero value.
var requiredItems = map[string][]string{
	"collections":         {"name", "fields"},
	"collections.fields":  {"name"},
	"collections.lookups": {"as", "from", "local_field", "foreign_field"},
}

// Build returns the schema of config.Config with the defaults of
// config.DefaultConfig, the accepted values of enumerated keys, and secret
// keys marked write-only.
func Build() (*jsonschema.Schema, error) {
	opts := &jsonschema.ForOptions{
		IgnoreInvalidTypes: true,
		TypeSchemas: map[reflect.Type]*jsonschema.Schema{
			reflect.TypeOf(time.Duration(0)): {Type: "string", Pattern: durationPattern},
		},
	}

	t := reflect.TypeOf(config.Config{})
	schema, err := jsonschema.ForType(t, opts)
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	applyFieldNames(schema, t)
	injectDefaults(schema, reflect.ValueOf(config.DefaultConfig()))
	pruneRequiredWithDefaults(schema)
	annotate(schema, t, "", config.AllowedValues())
	// Every section is optional at the top level, collections included:
	// a file may hold only overrides.
	schema.Required = nil

	schema.Title = "keyset configuration"
	schema.Description = "Configuration file for the keyset listing service."
	schema.Schema = draft
	return schema, nil
}

// Marshal renders the schema as indented JSON.
func Marshal(schema *jsonschema.Schema) ([]byte, error) {
	return json.MarshalIndent(schema, "", "  ")
}

// Lint validates a YAML or JSON configuration file against the schema. It
// catches unknown keys and mistyped values that the loader would silently
// ignore or coerce.
func Lint(schema *jsonschema.Schema, document []byte) error {
	var raw any
	if err := yaml.Unmarshal(document, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if raw == nil {
		return nil
	}
	// Round trip through JSON so numbers and maps have the shapes the
	// validator expects.
	encoded, err := json.Marshal(normalize(raw))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var instance any
	if err := json.Unmarshal(encoded, &instance); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve schema: %w", err)
	}
	return resolved.Validate(instance)
}

// normalize turns the map[any]any values yaml may produce into
// map[string]any.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = normalize(item)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		for i, item := range val {
			val[i] = normalize(item)
		}
		return val
	default:
		return v
	}
}

// annotate walks the schema beside its Go type adding enums, write-only
// markers and the required keys of collection entries.
func annotate(schema *jsonschema.Schema, t reflect.Type, prefix string, allowed map[string][]string) {
	if schema == nil {
		return
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct:
		if t.PkgPath() == "time" {
			return
		}
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := fieldKeyName(field)
			prop, ok := schema.Properties[name]
			if !ok {
				continue
			}
			key := name
			if prefix != "" {
				key = prefix + "." + name
			}
			if values, ok := allowed[key]; ok {
				prop.Enum = make([]any, len(values))
				for j, v := range values {
					prop.Enum[j] = v
				}
			}
			if field.Tag.Get("secret") == "true" {
				prop.WriteOnly = true
			}
			annotate(prop, field.Type, key, allowed)
		}
	case reflect.Slice, reflect.Array:
		if required, ok := requiredItems[prefix]; ok && schema.Items != nil {
			schema.Items.Required = required
		}
		annotate(schema.Items, t.Elem(), prefix, allowed)
	}
}

// applyFieldNames renames properties from Go field names to the
// mapstructure keys the loader reads.
func applyFieldNames(schema *jsonschema.Schema, t reflect.Type) {
	if schema == nil || t == nil {
		return
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		if len(schema.Properties) == 0 {
			return
		}
		nameMap := make(map[string]string)
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			jsonName := jsonFieldName(field)
			desired := fieldKeyName(field)
			nameMap[jsonName] = desired
			if prop, ok := schema.Properties[jsonName]; ok {
				delete(schema.Properties, jsonName)
				schema.Properties[desired] = prop
				applyFieldNames(prop, field.Type)
			}
		}
		schema.Required = rename(schema.Required, nameMap)
		schema.PropertyOrder = rename(schema.PropertyOrder, nameMap)

	case reflect.Slice, reflect.Array:
		applyFieldNames(schema.Items, t.Elem())
	}
}

func rename(names []string, nameMap map[string]string) []string {
	if len(names) == 0 {
		return names
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if mapped, ok := nameMap[name]; ok {
			name = mapped
		}
		out = append(out, name)
	}
	return out
}

func injectDefaults(schema *jsonschema.Schema, value reflect.Value) {
	if schema == nil || !value.IsValid() {
		return
	}
	for value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return
		}
		value = value.Elem()
	}

	switch value.Kind() {
	case reflect.Struct:
		if len(schema.Properties) == 0 {
			return
		}
		t := value.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			propSchema, ok := schema.Properties[fieldKeyName(field)]
			if !ok {
				continue
			}
			fieldVal := value.Field(i)
			if propSchema.Default == nil {
				if raw, ok := marshalDefault(propSchema, fieldVal); ok {
					propSchema.Default = raw
				}
			}
			injectDefaults(propSchema, fieldVal)
		}

	case reflect.Slice, reflect.Array, reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if schema.Default == nil {
			if raw, ok := marshalDefault(schema, value); ok {
				schema.Default = raw
			}
		}
	}
}

// pruneRequiredWithDefaults drops required keys that have a default: the
// loader fills them in.
func pruneRequiredWithDefaults(schema *jsonschema.Schema) {
	if schema == nil {
		return
	}
	for _, prop := range schema.Properties {
		pruneRequiredWithDefaults(prop)
	}
	pruneRequiredWithDefaults(schema.Items)
	if len(schema.Required) == 0 || len(schema.Properties) == 0 {
		return
	}
	kept := make([]string, 0, len(schema.Required))
	for _, name := range schema.Required {
		prop := schema.Properties[name]
		if prop == nil || prop.Default == nil {
			kept = append(kept, name)
		}
	}
	schema.Required = kept
}

func marshalDefault(schema *jsonschema.Schema, value reflect.Value) (json.RawMessage, bool) {
	if !value.IsValid() {
		return nil, false
	}
	if (value.Kind() == reflect.Slice || value.Kind() == reflect.Map) && value.IsNil() {
		return nil, false
	}
	if value.Type() == reflect.TypeOf(time.Duration(0)) && schema.Type == "string" {
		payload, err := json.Marshal(time.Duration(value.Int()).String())
		if err != nil {
			return nil, false
		}
		return payload, true
	}
	payload, err := json.Marshal(value.Interface())
	if err != nil {
		return nil, false
	}
	return payload, true
}

func fieldKeyName(field reflect.StructField) string {
	if tag, ok := tagName(field.Tag.Get("mapstructure")); ok {
		return tag
	}
	if tag, ok := tagName(field.Tag.Get("yaml")); ok {
		return tag
	}
	return toSnakeCase(field.Name)
}

func tagName(tag string) (string, bool) {
	name, _, _ := strings.Cut(tag, ",")
	if name == "" || name == "-" {
		return "", false
	}
	return name, true
}

func toSnakeCase(value string) string {
	var b strings.Builder
	b.Grow(len(value) + 8)
	for i, r := range value {
		if i > 0 && isWordBoundary(value, i, r) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func isWordBoundary(value string, index int, r rune) bool {
	if !unicode.IsUpper(r) {
		return false
	}
	prev := rune(value[index-1])
	if unicode.IsUpper(prev) {
		if index+1 < len(value) {
			return unicode.IsLower(rune(value[index+1]))
		}
		return false
	}
	return true
}

// jsonFieldName is the property name jsonschema.ForType gives a field.
func jsonFieldName(field reflect.StructField) string {
	if tag, ok := field.Tag.Lookup("json"); ok {
		if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
			return name
		}
	}
	return field.Name
}
