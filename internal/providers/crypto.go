package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arko05roy/swarm/internal/agent"
)

// CoinGeckoURL is the public CoinGecko API root.
const CoinGeckoURL = "https://api.coingecko.com/api/v3"

// CryptoPrice quotes spot prices from the CoinGecko simple price endpoint.
type CryptoPrice struct {
	BaseURL     string
	DefaultCoin string
	Client      *http.Client
}

// Execute implements agent.Provider.
func (p *CryptoPrice) Execute(ctx context.Context, input map[string]any, _ agent.Caller) (any, error) {
	coin := strings.ToLower(stringInput(input, p.defaultCoin(), "coin", "symbol"))
	currency := strings.ToLower(stringInput(input, "usd", "currency"))

	q := url.Values{}
	q.Set("ids", coin)
	q.Set("vs_currencies", currency)
	q.Set("include_24hr_change", "true")
	u := strings.TrimRight(p.baseURL(), "/") + "/simple/price?" + q.Encode()

	var quotes map[string]map[string]float64
	if err := getJSON(ctx, clientOr(p.Client), "CoinGecko", u, &quotes); err != nil {
		return nil, err
	}
	quote, ok := quotes[coin]
	if !ok {
		return nil, fmt.Errorf("coin %q not found on CoinGecko", coin)
	}
	price, ok := quote[currency]
	if !ok {
		return nil, fmt.Errorf("no %s price for %q", currency, coin)
	}

	return map[string]any{
		"symbol":    coin,
		"price":     price,
		"change24h": quote[currency+"_24h_change"],
		"currency":  strings.ToUpper(currency),
		"source":    "CoinGecko",
		"timestamp": time.Now().UnixMilli(),
	}, nil
}

func (p *CryptoPrice) baseURL() string {
	if p.BaseURL == "" {
		return CoinGeckoURL
	}
	return p.BaseURL
}

func (p *CryptoPrice) defaultCoin() string {
	if p.DefaultCoin == "" {
		return "bitcoin"
	}
	return p.DefaultCoin
}
