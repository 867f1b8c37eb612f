package agent

import (
	"slices"
	"time"
)

// Pricing is what a caller pays per execution.
type Pricing struct {
	BasePrice    float64 `json:"basePrice" yaml:"basePrice"`
	PricePerCall float64 `json:"pricePerCall" yaml:"pricePerCall"`
	Currency     string  `json:"currency" yaml:"currency"`
}

// IOSchema pairs the input and output shape descriptors of an agent.
type IOSchema struct {
	Input  Schema `json:"input" yaml:"input"`
	Output Schema `json:"output" yaml:"output"`
}

// Metadata holds an agent's rolling metrics. Only the agent mutates it.
type Metadata struct {
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	LastCalledAt  time.Time `json:"lastCalledAt,omitzero"`
	Calls         int64     `json:"calls"`
	TotalEarnings float64   `json:"totalEarnings"`
	SuccessRate   float64   `json:"successRate"`  // percentage 0-100
	AvgLatencyMs  float64   `json:"avgLatencyMs"` // running mean
	Reputation    float64   `json:"reputation"`   // clamp(SuccessRate, 0, 100)
}

// Manifest is the static identity of an agent plus its metrics snapshot.
type Manifest struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Version      string   `json:"version" yaml:"version"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Author       string   `json:"author,omitempty" yaml:"author,omitempty"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	Pricing      Pricing  `json:"pricing" yaml:"pricing"`
	Schema       IOSchema `json:"schema" yaml:"schema"`
	// Template names the provider catalog entry the agent was built from.
	Template string   `json:"template,omitempty" yaml:"template,omitempty"`
	Metadata Metadata `json:"metadata" yaml:"-"`
}

// HasCapability reports whether the manifest declares capability c.
func (m Manifest) HasCapability(c string) bool {
	return slices.Contains(m.Capabilities, c)
}

func (m Manifest) clone() Manifest {
	m.Capabilities = slices.Clone(m.Capabilities)
	return m
}

// applyDefaults fills unset identity fields. Pricing is left alone, so an
// agent without one is free and skips settlement.
func (m *Manifest) applyDefaults(now time.Time) {
	if m.Name == "" {
		m.Name = "Unnamed Agent"
	}
	if m.Version == "" {
		m.Version = "1.0.0"
	}
	if m.Author == "" {
		m.Author = "unknown"
	}
	if m.Pricing.Currency == "" {
		m.Pricing.Currency = "STX"
	}
	if m.Schema.Input.Type == "" {
		m.Schema.Input.Type = TypeObject
	}
	if m.Metadata.CreatedAt.IsZero() {
		m.Metadata = Metadata{
			CreatedAt:   now,
			UpdatedAt:   now,
			SuccessRate: 100,
			Reputation:  100,
		}
	}
	m.Capabilities = dedupe(m.Capabilities)
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
