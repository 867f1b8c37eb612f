package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/domain"
)

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestCryptoPrice(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "ethereum", r.URL.Query().Get("ids"))
		assert.Equal(t, "eur", r.URL.Query().Get("vs_currencies"))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		fmt.Fprint(w, `{"ethereum":{"eur":3120.5,"eur_24h_change":-1.25}}`)
	})

	p := &CryptoPrice{BaseURL: srv.URL, Client: srv.Client()}
	out, err := p.Execute(context.Background(), map[string]any{"coin": "Ethereum", "currency": "EUR"}, agent.Caller{})
	require.NoError(t, err)
	data := out.(map[string]any)
	assert.Equal(t, "ethereum", data["symbol"])
	assert.Equal(t, 3120.5, data["price"])
	assert.Equal(t, -1.25, data["change24h"])
	assert.Equal(t, "EUR", data["currency"])
}

func TestCryptoPriceUnknownCoin(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		fmt.Fprint(w, `{}`)
	})
	p := &CryptoPrice{BaseURL: srv.URL, Client: srv.Client()}
	_, err := p.Execute(context.Background(), nil, agent.Caller{})
	assert.ErrorContains(t, err, `coin "bitcoin" not found`)
}

func TestAPIErrorStatus(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})
	p := &CryptoPrice{BaseURL: srv.URL, Client: srv.Client()}
	_, err := p.Execute(context.Background(), nil, agent.Caller{})
	assert.ErrorContains(t, err, "CoinGecko API returned 429")
}

func TestRetryingClient(t *testing.T) {
	var calls atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `42.5`)
	})
	p := &DefiTVL{BaseURL: srv.URL, Client: NewRetryingClient(time.Second, 2)}
	out, err := p.Execute(context.Background(), nil, agent.Caller{})
	require.NoError(t, err)
	assert.Equal(t, 42.5, out.(map[string]any)["tvl"])
	assert.Equal(t, int32(2), calls.Load())

	calls.Store(0)
	down := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	})
	p = &DefiTVL{BaseURL: down.URL, Client: NewRetryingClient(time.Second, 1)}
	_, err = p.Execute(context.Background(), nil, agent.Caller{})
	assert.ErrorContains(t, err, "DefiLlama API returned 502")
	assert.Equal(t, int32(2), calls.Load())
}

func TestWeather(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/New York", r.URL.Path)
		assert.Equal(t, "j1", r.URL.Query().Get("format"))
		fmt.Fprint(w, `{"current_condition":[{"temp_C":"21","FeelsLikeC":"20","humidity":"40",
			"windspeedKmph":"11","weatherDesc":[{"value":"Sunny"}]}]}`)
	})
	p := &Weather{BaseURL: srv.URL, Client: srv.Client()}
	out, err := p.Execute(context.Background(), map[string]any{"city": "New York"}, agent.Caller{})
	require.NoError(t, err)
	data := out.(map[string]any)
	assert.Equal(t, "21", data["temperature"])
	assert.Equal(t, "Sunny", data["condition"])
	assert.Equal(t, "New York", data["city"])
}

func TestWeatherEmpty(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"current_condition":[]}`)
	})
	p := &Weather{BaseURL: srv.URL, Client: srv.Client()}
	_, err := p.Execute(context.Background(), nil, agent.Caller{})
	assert.ErrorContains(t, err, "invalid weather data")
}

func TestDefiTVL(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tvl/aave", r.URL.Path)
		fmt.Fprint(w, `12345678.6`)
	})
	p := &DefiTVL{BaseURL: srv.URL, Client: srv.Client()}
	out, err := p.Execute(context.Background(), map[string]any{"protocol": "AAVE"}, agent.Caller{})
	require.NoError(t, err)
	data := out.(map[string]any)
	assert.Equal(t, 12345678.6, data["tvl"])
	assert.Equal(t, "$12,345,679", data["tvlFormatted"])
}

func TestEcho(t *testing.T) {
	in := map[string]any{"a": 1}
	out, err := Echo{}.Execute(context.Background(), in, agent.Caller{UserID: "u"})
	require.NoError(t, err)
	data := out.(map[string]any)
	assert.Equal(t, in, data["input"])
	assert.Equal(t, agent.Caller{UserID: "u"}, data["caller"])
}

func TestCatalog(t *testing.T) {
	c := NewCatalog(nil)
	assert.Equal(t, []string{"crypto-price", "weather", "defi-tvl", "echo"}, c.Names())

	a, err := c.Build("echo", agent.Manifest{ID: "my-echo", Pricing: agent.Pricing{BasePrice: 1}})
	require.NoError(t, err)
	m := a.Manifest()
	assert.Equal(t, "my-echo", m.ID)
	assert.Equal(t, "Echo", m.Name)
	assert.Equal(t, "echo", m.Template)
	assert.Equal(t, 1.0, a.EstimateCost(nil))

	res := a.Execute(context.Background(), map[string]any{"x": "y"}, agent.Caller{})
	require.True(t, res.Success, res.Error)

	_, err = c.Build("nope", agent.Manifest{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = c.Register(Template{Name: "echo", New: func(*http.Client) agent.Provider { return Echo{} }})
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
	assert.ErrorIs(t, c.Register(Template{Name: "x"}), domain.ErrInvalidArgument)
}

func TestCatalogResolve(t *testing.T) {
	c := NewCatalog(nil)
	a, err := c.Build("weather", agent.Manifest{})
	require.NoError(t, err)

	p := c.Resolve(a.Snapshot())
	require.NotNil(t, p)
	assert.IsType(t, &Weather{}, p)

	assert.Nil(t, c.Resolve(agent.Snapshot{Manifest: agent.Manifest{Template: "gone"}}))
	assert.Nil(t, c.Resolve(agent.Snapshot{}))
}

func TestCore(t *testing.T) {
	core := NewCatalog(nil).Core()
	require.Len(t, core, 4)
	assert.Equal(t, "crypto-price-core", core[0].ID())
	assert.Equal(t, 0.001, core[0].EstimateCost(nil))
	assert.True(t, core[0].Manifest().HasCapability("market-data"))
}
