package providers

import (
	"net/http"
	"slices"
	"sync"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/domain"
)

const coreAuthor = "Swarm Core"

// Template is a named recipe for an agent: a default manifest plus a
// constructor for its provider.
type Template struct {
	Name     string
	Manifest agent.Manifest
	New      func(client *http.Client) agent.Provider
}

// Catalog maps template names to constructors. Restoring persisted agents
// goes through Resolve.
type Catalog struct {
	client *http.Client

	mu        sync.RWMutex
	templates map[string]Template
	order     []string
}

// NewCatalog creates a catalog holding the built-in templates. Providers it
// builds share client; nil uses DefaultHTTPClient.
func NewCatalog(client *http.Client) *Catalog {
	c := &Catalog{client: clientOr(client), templates: make(map[string]Template)}
	for _, t := range Builtins() {
		_ = c.Register(t)
	}
	return c
}

// Register adds a template.
func (c *Catalog) Register(t Template) error {
	if t.Name == "" || t.New == nil {
		return domain.Errorf(domain.CodeInvalidArgument, "template needs a name and a constructor")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.templates[t.Name]; ok {
		return domain.Errorf(domain.CodeDuplicateID, "template %s already registered", t.Name)
	}
	c.templates[t.Name] = t
	c.order = append(c.order, t.Name)
	return nil
}

// Names lists template names in registration order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// Get returns a template by name.
func (c *Catalog) Get(name string) (Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[name]
	return t, ok
}

// Build creates an agent from a template. Non-zero identity and pricing
// fields of override replace the template defaults.
func (c *Catalog) Build(name string, override agent.Manifest) (*agent.Agent, error) {
	t, ok := c.Get(name)
	if !ok {
		return nil, domain.Errorf(domain.CodeNotFound, "unknown template %s", name)
	}
	m := t.Manifest
	m.Capabilities = slices.Clone(m.Capabilities)
	if override.ID != "" {
		m.ID = override.ID
	}
	if override.Name != "" {
		m.Name = override.Name
	}
	if override.Description != "" {
		m.Description = override.Description
	}
	if override.Author != "" {
		m.Author = override.Author
	}
	if len(override.Capabilities) > 0 {
		m.Capabilities = slices.Clone(override.Capabilities)
	}
	if override.Pricing != (agent.Pricing{}) {
		m.Pricing = override.Pricing
	}
	m.Template = name
	return agent.New(m, t.New(c.client)), nil
}

// Resolve returns a live provider for a persisted agent, or nil when its
// template is unknown. It satisfies registry.ProviderResolver.
func (c *Catalog) Resolve(s agent.Snapshot) agent.Provider {
	t, ok := c.Get(s.Manifest.Template)
	if !ok {
		return nil
	}
	return t.New(c.client)
}

// Core builds one agent per registered template using the template's own
// manifest.
func (c *Catalog) Core() []*agent.Agent {
	names := c.Names()
	out := make([]*agent.Agent, 0, len(names))
	for _, name := range names {
		a, err := c.Build(name, agent.Manifest{})
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out
}

func stringProp() *agent.Schema {
	return &agent.Schema{Type: agent.TypeString}
}

// Builtins returns the templates every catalog starts with.
func Builtins() []Template {
	return []Template{
		{
			Name: "crypto-price",
			Manifest: agent.Manifest{
				ID:           "crypto-price-core",
				Name:         "Crypto Price Oracle",
				Description:  "Real-time cryptocurrency price from CoinGecko",
				Author:       coreAuthor,
				Capabilities: []string{"crypto-price", "price", "market-data"},
				Pricing:      agent.Pricing{PricePerCall: 0.001},
				Schema: agent.IOSchema{Input: agent.Schema{
					Type: agent.TypeObject,
					Properties: map[string]*agent.Schema{
						"coin":     stringProp(),
						"symbol":   stringProp(),
						"currency": stringProp(),
					},
				}},
			},
			New: func(client *http.Client) agent.Provider { return &CryptoPrice{Client: client} },
		},
		{
			Name: "weather",
			Manifest: agent.Manifest{
				ID:           "weather-core",
				Name:         "Weather Reporter",
				Description:  "Current weather conditions from wttr.in",
				Author:       coreAuthor,
				Capabilities: []string{"weather", "forecast", "temperature"},
				Pricing:      agent.Pricing{PricePerCall: 0.001},
				Schema: agent.IOSchema{Input: agent.Schema{
					Type:       agent.TypeObject,
					Properties: map[string]*agent.Schema{"city": stringProp()},
				}},
			},
			New: func(client *http.Client) agent.Provider { return &Weather{Client: client} },
		},
		{
			Name: "defi-tvl",
			Manifest: agent.Manifest{
				ID:           "defi-tvl-core",
				Name:         "DeFi TVL Tracker",
				Description:  "Total Value Locked from DefiLlama",
				Author:       coreAuthor,
				Capabilities: []string{"defi-tvl", "tvl", "defi", "analytics"},
				Pricing:      agent.Pricing{PricePerCall: 0.002},
				Schema: agent.IOSchema{Input: agent.Schema{
					Type:       agent.TypeObject,
					Properties: map[string]*agent.Schema{"protocol": stringProp()},
				}},
			},
			New: func(client *http.Client) agent.Provider { return &DefiTVL{Client: client} },
		},
		{
			Name: "echo",
			Manifest: agent.Manifest{
				ID:           "echo-core",
				Name:         "Echo",
				Description:  "Returns its input, for diagnostics",
				Author:       coreAuthor,
				Capabilities: []string{"echo", "diagnostics"},
			},
			New: func(*http.Client) agent.Provider { return Echo{} },
		},
	}
}
