package main

import (
	"fmt"
	"sort"
)

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
}

// tool maps MCP arguments onto one gateway method.
type tool struct {
	def   Tool
	build func(args map[string]any) (string, any, error)
}

func floatPtr(f float64) *float64 { return &f }

var tools = map[string]tool{
	"list_agents": {
		def: Tool{
			Name:        "list_agents",
			Description: "List registered agents with price, rating and call counts",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"capability":  {Type: "string", Description: "Only agents offering this capability"},
					"owner":       {Type: "string", Description: "Only agents registered by this owner"},
					"active_only": {Type: "boolean", Description: "Hide paused agents"},
					"sort_by":     {Type: "string", Description: "Sort order", Enum: []string{"price", "rating", "calls"}},
					"limit":       {Type: "integer", Description: "Maximum agents to return", Minimum: floatPtr(1)},
				},
				Required: []string{},
			},
		},
		build: func(args map[string]any) (string, any, error) {
			return "agents.list", map[string]any{
				"capability": stringArg(args, "capability"),
				"owner":      stringArg(args, "owner"),
				"activeOnly": boolArg(args, "active_only"),
				"sortBy":     stringArg(args, "sort_by"),
				"limit":      intArg(args, "limit"),
			}, nil
		},
	},
	"search_agents": {
		def: Tool{
			Name:        "search_agents",
			Description: "Search agents by name, description or capability",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query": {Type: "string", Description: "Search text"},
				},
				Required: []string{"query"},
			},
		},
		build: func(args map[string]any) (string, any, error) {
			q, err := requireString(args, "query")
			if err != nil {
				return "", nil, err
			}
			return "agents.search", map[string]any{"query": q}, nil
		},
	},
	"run_agent": {
		def: Tool{
			Name:        "run_agent",
			Description: "Execute an agent and pay its price; earnings go to the agent's investors",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"agent_id":   {Type: "string", Description: "Agent id"},
					"input":      {Type: "object", Description: "Input object passed to the agent"},
					"timeout_ms": {Type: "integer", Description: "Per-call timeout in milliseconds", Minimum: floatPtr(1)},
				},
				Required: []string{"agent_id"},
			},
		},
		build: func(args map[string]any) (string, any, error) {
			id, err := requireString(args, "agent_id")
			if err != nil {
				return "", nil, err
			}
			input, err := objectArg(args, "input")
			if err != nil {
				return "", nil, err
			}
			return "engine.execute", map[string]any{
				"agentId":   id,
				"input":     input,
				"timeoutMs": intArg(args, "timeout_ms"),
			}, nil
		},
	},
	"run_workflow": {
		def: Tool{
			Name:        "run_workflow",
			Description: "Run agents in sequence; step input may reference $input and $prev",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"name":  {Type: "string", Description: "Workflow name"},
					"steps": {Type: "array", Description: "Steps, each {agent, input, useGlobalInput, continueOnError, fallback}"},
					"input": {Type: "object", Description: "Global workflow input"},
				},
				Required: []string{"steps"},
			},
		},
		build: func(args map[string]any) (string, any, error) {
			steps, ok := args["steps"].([]any)
			if !ok || len(steps) == 0 {
				return "", nil, fmt.Errorf("steps must be a non-empty array")
			}
			input, err := objectArg(args, "input")
			if err != nil {
				return "", nil, err
			}
			name := stringArg(args, "name")
			if name == "" {
				name = "mcp"
			}
			return "workflow.run", map[string]any{
				"workflow": map[string]any{"name": name, "steps": steps},
				"input":    input,
			}, nil
		},
	},
	"invest": {
		def: Tool{
			Name:        "invest",
			Description: "Invest in an agent to receive a share of its earnings",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"agent_id": {Type: "string", Description: "Agent id"},
					"amount":   {Type: "number", Description: "Amount to invest", Minimum: floatPtr(0)},
				},
				Required: []string{"agent_id", "amount"},
			},
		},
		build: func(args map[string]any) (string, any, error) {
			id, err := requireString(args, "agent_id")
			if err != nil {
				return "", nil, err
			}
			amount, ok := args["amount"].(float64)
			if !ok {
				return "", nil, fmt.Errorf("amount must be a number")
			}
			return "ledger.invest", map[string]any{"agentId": id, "amount": amount}, nil
		},
	},
	"portfolio": {
		def: Tool{
			Name:        "portfolio",
			Description: "Show the connected user's investment positions",
			InputSchema: InputSchema{Type: "object", Properties: map[string]Property{}, Required: []string{}},
		},
		build: func(map[string]any) (string, any, error) {
			return "ledger.portfolio", nil, nil
		},
	},
	"opportunities": {
		def: Tool{
			Name:        "opportunities",
			Description: "Rank agents by investment return",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"limit": {Type: "integer", Description: "Maximum entries", Minimum: floatPtr(1)},
				},
				Required: []string{},
			},
		},
		build: func(args map[string]any) (string, any, error) {
			return "ledger.opportunities", map[string]any{"limit": intArg(args, "limit")}, nil
		},
	},
}

func toolDefinitions() []Tool {
	defs := make([]Tool, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, t.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// intArg reads a JSON number as an int; absent or non-numeric values are 0.
func intArg(args map[string]any, key string) int {
	f, _ := args[key].(float64)
	return int(f)
}

func requireString(args map[string]any, key string) (string, error) {
	s := stringArg(args, key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

func objectArg(args map[string]any, key string) (map[string]any, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return map[string]any{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object", key)
	}
	return m, nil
}
