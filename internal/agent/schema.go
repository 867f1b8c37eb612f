package agent

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/arko05roy/swarm/internal/domain"
)

// Schema type names.
const (
	TypeObject  = "object"
	TypeArray   = "array"
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeNull    = "null"
)

// Schema describes the shape of an agent's input or output. A zero Schema
// accepts anything.
type Schema struct {
	Type       string             `json:"type,omitempty" yaml:"type,omitempty"`
	Properties map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required   bool               `json:"required,omitempty" yaml:"required,omitempty"`
	Strict     bool               `json:"strict,omitempty" yaml:"strict,omitempty"`
	Items      *Schema            `json:"items,omitempty" yaml:"items,omitempty"`
	MinLength  *int               `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength  *int               `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Minimum    *float64           `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum    *float64           `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	Integer    bool               `json:"integer,omitempty" yaml:"integer,omitempty"`
	Pattern    string             `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Enum       []string           `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// Validate checks v against the schema. label prefixes error messages
// ("input", "output"). Failures carry domain.CodeValidationFailed.
func (s *Schema) Validate(v any, label string) error {
	if s == nil {
		return nil
	}
	if err := s.validate(v, label); err != nil {
		return domain.Errorf(domain.CodeValidationFailed, "%s", err.Error())
	}
	return nil
}

func (s *Schema) validate(v any, label string) error {
	if s.Type != "" {
		if actual := typeOf(v); actual != s.Type {
			return fmt.Errorf("%s type mismatch: expected %s, got %s", label, s.Type, actual)
		}
	}

	switch s.Type {
	case TypeObject:
		return s.validateObject(v, label)
	case TypeArray:
		return s.validateArray(v, label)
	case TypeString:
		return s.validateString(v.(string), label)
	case TypeNumber:
		n, _ := toFloat(v)
		return s.validateNumber(n, label)
	}
	return nil
}

func (s *Schema) validateObject(v any, label string) error {
	obj, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("%s must be an object", label)
	}
	if len(s.Properties) == 0 {
		return nil
	}

	keys := make([]string, 0, len(s.Properties))
	for k := range s.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		prop := s.Properties[key]
		if prop == nil {
			continue
		}
		val, present := obj[key]
		if !present {
			if prop.Required {
				return fmt.Errorf("%s missing required field: %s", label, key)
			}
			continue
		}
		if err := prop.validate(val, label+"."+key); err != nil {
			return err
		}
	}

	if s.Strict {
		var unknown []string
		for k := range obj {
			if _, ok := s.Properties[k]; !ok {
				unknown = append(unknown, k)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return fmt.Errorf("%s has unknown fields: %s", label, strings.Join(unknown, ", "))
		}
	}
	return nil
}

func (s *Schema) validateArray(v any, label string) error {
	rv := reflect.ValueOf(v)
	n := rv.Len()
	if s.MinLength != nil && n < *s.MinLength {
		return fmt.Errorf("%s length must be at least %d, got %d", label, *s.MinLength, n)
	}
	if s.MaxLength != nil && n > *s.MaxLength {
		return fmt.Errorf("%s length must be at most %d, got %d", label, *s.MaxLength, n)
	}
	if s.Items != nil {
		for i := range n {
			if err := s.Items.validate(rv.Index(i).Interface(), fmt.Sprintf("%s[%d]", label, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Schema) validateString(str, label string) error {
	n := len([]rune(str))
	if s.MinLength != nil && n < *s.MinLength {
		return fmt.Errorf("%s length must be at least %d, got %d", label, *s.MinLength, n)
	}
	if s.MaxLength != nil && n > *s.MaxLength {
		return fmt.Errorf("%s length must be at most %d, got %d", label, *s.MaxLength, n)
	}
	if s.Pattern != "" {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return fmt.Errorf("%s has invalid pattern %q: %v", label, s.Pattern, err)
		}
		if !re.MatchString(str) {
			return fmt.Errorf("%s does not match pattern: %s", label, s.Pattern)
		}
	}
	if len(s.Enum) > 0 && !slices.Contains(s.Enum, str) {
		return fmt.Errorf("%s must be one of: %s, got %q", label, strings.Join(s.Enum, ", "), str)
	}
	return nil
}

func (s *Schema) validateNumber(n float64, label string) error {
	if math.IsNaN(n) {
		return fmt.Errorf("%s must be a number", label)
	}
	if s.Minimum != nil && n < *s.Minimum {
		return fmt.Errorf("%s must be at least %v, got %v", label, *s.Minimum, n)
	}
	if s.Maximum != nil && n > *s.Maximum {
		return fmt.Errorf("%s must be at most %v, got %v", label, *s.Maximum, n)
	}
	if s.Integer && n != math.Trunc(n) {
		return fmt.Errorf("%s must be an integer, got %v", label, n)
	}
	return nil
}

// typeOf maps a decoded Go value onto a schema type name.
func typeOf(v any) string {
	if v == nil {
		return TypeNull
	}
	switch v.(type) {
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case map[string]any:
		return TypeObject
	}
	if _, ok := toFloat(v); ok {
		return TypeNumber
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return TypeArray
	case reflect.Map, reflect.Struct:
		return TypeObject
	}
	return reflect.TypeOf(v).String()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Prop is a convenience constructor for a property schema.
func Prop(typ string, required bool) *Schema {
	return &Schema{Type: typ, Required: required}
}
