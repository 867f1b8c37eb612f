package providers

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/arko05roy/swarm/internal/agent"
)

// DefiLlamaURL is the DefiLlama API root.
const DefiLlamaURL = "https://api.llama.fi"

// DefiTVL reports a protocol's total value locked from DefiLlama.
type DefiTVL struct {
	BaseURL         string
	DefaultProtocol string
	Client          *http.Client
}

// Execute implements agent.Provider.
func (p *DefiTVL) Execute(ctx context.Context, input map[string]any, _ agent.Caller) (any, error) {
	fallback := p.DefaultProtocol
	if fallback == "" {
		fallback = "stacks"
	}
	protocol := strings.ToLower(stringInput(input, fallback, "protocol"))

	base := p.BaseURL
	if base == "" {
		base = DefiLlamaURL
	}
	u := strings.TrimRight(base, "/") + "/tvl/" + url.PathEscape(protocol)

	var tvl float64
	if err := getJSON(ctx, clientOr(p.Client), "DefiLlama", u, &tvl); err != nil {
		return nil, err
	}

	return map[string]any{
		"protocol":     protocol,
		"tvl":          tvl,
		"tvlFormatted": "$" + humanize.Comma(int64(tvl+0.5)),
		"source":       "DefiLlama",
		"timestamp":    time.Now().UnixMilli(),
	}, nil
}
