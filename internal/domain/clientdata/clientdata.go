// Package clientdata holds the per-client payloads attached to proposals.
package clientdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ErrUnknownClientType is returned when no factory is registered for a slug
var ErrUnknownClientType = errors.New("unknown client data type")

// ClientData is the opaque client payload a proposal carries. The workflow
// only reads its name, its total and whether an edit needs re-review.
type ClientData interface {
	ClientSlug() string
	DisplayName() string
	TotalPrice() float64
	Validate() error
	RequiresReview(previous ClientData) bool
}

// ValidationError reports field-level problems with submitted client data
type ValidationError struct {
	Fields map[string]string
}

// Error implements error
func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a problem for a field
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}

// OrNil returns the error only when at least one field failed
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Factory returns an empty payload ready to be decoded into
type Factory func() ClientData

// Entry binds a client slug to its factory
type Entry struct {
	Slug string
	New  Factory
}

// Registry is the static table of known client data types
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds a registry from explicit entries
func NewRegistry(entries ...Entry) *Registry {
	r := &Registry{factories: make(map[string]Factory, len(entries))}
	for _, e := range entries {
		r.factories[e.Slug] = e.New
	}
	return r
}

// DefaultRegistry returns the registry with every built-in client type
func DefaultRegistry() *Registry {
	return NewRegistry(
		Entry{Slug: ProcurementSlug, New: func() ClientData { return &Procurement{} }},
	)
}

// Slugs lists the registered client types in sorted order
func (r *Registry) Slugs() []string {
	slugs := make([]string, 0, len(r.factories))
	for s := range r.factories {
		slugs = append(slugs, s)
	}
	sort.Strings(slugs)
	return slugs
}

// Decode parses raw JSON into the payload type registered for slug
func (r *Registry) Decode(slug string, raw []byte) (ClientData, error) {
	factory, ok := r.factories[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClientType, slug)
	}

	data := factory()
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, data); err != nil {
		v := &ValidationError{}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			v.Add(typeErr.Field, typeMismatch(typeErr.Type))
		} else {
			v.Add("client_data", "is not valid JSON")
		}
		return nil, v
	}
	return data, nil
}

func typeMismatch(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "must be a number"
	case reflect.Bool:
		return "must be true or false"
	case reflect.String:
		return "must be text"
	default:
		return "has the wrong type"
	}
}

// Encode serializes a payload for storage
func Encode(data ClientData) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode client data: %w", err)
	}
	return string(b), nil
}
