// File: internal/mcp/schema.go
package mcp

import (
	"fmt"
	"math"
	"reflect"
)

// ToolSchema describes one tool exposed by the server.
type ToolSchema struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema is the subset of JSON Schema the client checks locally.
type InputSchema struct {
	Type       string                    `json:"type,omitempty"`
	Required   []string                  `json:"required,omitempty"`
	Properties map[string]PropertySchema `json:"properties,omitempty"`
}

// PropertySchema describes a single argument.
type PropertySchema struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// Validate checks args against the schema. Unknown fields are allowed and
// properties without a declared type accept anything.
func (s ToolSchema) Validate(args map[string]interface{}) error {
	for _, field := range s.InputSchema.Required {
		if _, ok := args[field]; !ok {
			return &ValidationError{Kind: MissingRequired, Tool: s.Name, Field: field}
		}
	}
	for field, value := range args {
		prop, ok := s.InputSchema.Properties[field]
		if !ok || prop.Type == "" {
			continue
		}
		if !matchesType(prop.Type, value) {
			return &ValidationError{
				Kind:     TypeMismatch,
				Tool:     s.Name,
				Field:    field,
				Expected: prop.Type,
				Actual:   describeType(value),
			}
		}
	}
	return nil
}

func matchesType(want string, v interface{}) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		_, ok := numeric(v)
		return ok
	case "integer":
		f, ok := numeric(v)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case "array":
		if v == nil {
			return false
		}
		k := reflect.TypeOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	case "object":
		if v == nil {
			return false
		}
		return reflect.TypeOf(v).Kind() == reflect.Map
	case "null":
		return v == nil
	default:
		// Unrecognized schema types are not enforced.
		return true
	}
}

// numeric reports v as a float64 when it is a Go number. Booleans are not numbers.
func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), !math.IsNaN(float64(n))
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func describeType(v interface{}) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	if f, ok := numeric(v); ok {
		if f == math.Trunc(f) {
			return "integer"
		}
		return "number"
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
