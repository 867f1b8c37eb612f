package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arko05roy/swarm/internal/domain"
)

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

func TestSchemaValidate(t *testing.T) {
	schema := &Schema{
		Type:   TypeObject,
		Strict: true,
		Properties: map[string]*Schema{
			"symbol": {Type: TypeString, Required: true, MinLength: intPtr(2), MaxLength: intPtr(6), Pattern: "^[a-z]+$"},
			"side":   {Type: TypeString, Enum: []string{"buy", "sell"}},
			"amount": {Type: TypeNumber, Minimum: floatPtr(0), Maximum: floatPtr(1000)},
			"count":  {Type: TypeNumber, Integer: true},
			"tags":   {Type: TypeArray, MaxLength: intPtr(2), Items: &Schema{Type: TypeString}},
			"meta": {Type: TypeObject, Properties: map[string]*Schema{
				"source": {Type: TypeString, Required: true},
			}},
		},
	}

	tests := []struct {
		name    string
		input   any
		wantErr string
	}{
		{"valid", map[string]any{"symbol": "btc", "side": "buy", "amount": 5.0, "count": 3, "tags": []any{"a"}, "meta": map[string]any{"source": "x"}}, ""},
		{"not an object", "btc", "input type mismatch: expected object, got string"},
		{"missing required", map[string]any{}, "input missing required field: symbol"},
		{"too short", map[string]any{"symbol": "b"}, "input.symbol length must be at least 2, got 1"},
		{"pattern", map[string]any{"symbol": "BTC"}, "input.symbol does not match pattern: ^[a-z]+$"},
		{"enum", map[string]any{"symbol": "btc", "side": "hold"}, `input.side must be one of: buy, sell, got "hold"`},
		{"maximum", map[string]any{"symbol": "btc", "amount": 5000}, "input.amount must be at most 1000, got 5000"},
		{"minimum", map[string]any{"symbol": "btc", "amount": -1}, "input.amount must be at least 0, got -1"},
		{"integer", map[string]any{"symbol": "btc", "count": 1.5}, "input.count must be an integer, got 1.5"},
		{"array length", map[string]any{"symbol": "btc", "tags": []any{"a", "b", "c"}}, "input.tags length must be at most 2, got 3"},
		{"array items", map[string]any{"symbol": "btc", "tags": []any{"a", 1}}, "input.tags[1] type mismatch: expected string, got number"},
		{"nested required", map[string]any{"symbol": "btc", "meta": map[string]any{}}, "input.meta missing required field: source"},
		{"strict", map[string]any{"symbol": "btc", "zzz": 1, "aaa": 2}, "input has unknown fields: aaa, zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate(tt.input, "input")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domain.ErrValidationFailed)
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestZeroSchemaAcceptsAnything(t *testing.T) {
	var s Schema
	assert.NoError(t, s.Validate(nil, "output"))
	assert.NoError(t, s.Validate([]int{1, 2}, "output"))

	var nilSchema *Schema
	assert.NoError(t, nilSchema.Validate("x", "output"))
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, TypeNull, typeOf(nil))
	assert.Equal(t, TypeNumber, typeOf(int64(3)))
	assert.Equal(t, TypeArray, typeOf([]string{"a"}))
	assert.Equal(t, TypeBoolean, typeOf(true))
	assert.Equal(t, TypeObject, typeOf(map[string]any{}))
}
