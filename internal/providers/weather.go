package providers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arko05roy/swarm/internal/agent"
)

// WttrURL is the wttr.in service root.
const WttrURL = "https://wttr.in"

// wttrResponse is the subset of the j1 format we read.
type wttrResponse struct {
	CurrentCondition []struct {
		TempC         string `json:"temp_C"`
		FeelsLikeC    string `json:"FeelsLikeC"`
		Humidity      string `json:"humidity"`
		WindspeedKmph string `json:"windspeedKmph"`
		WeatherDesc   []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
	} `json:"current_condition"`
}

// Weather reports current conditions for a city from wttr.in.
type Weather struct {
	BaseURL     string
	DefaultCity string
	Client      *http.Client
}

// Execute implements agent.Provider.
func (p *Weather) Execute(ctx context.Context, input map[string]any, _ agent.Caller) (any, error) {
	city := stringInput(input, p.defaultCity(), "city", "location")

	base := p.BaseURL
	if base == "" {
		base = WttrURL
	}
	u := strings.TrimRight(base, "/") + "/" + url.PathEscape(city) + "?format=j1"

	var resp wttrResponse
	if err := getJSON(ctx, clientOr(p.Client), "Weather", u, &resp); err != nil {
		return nil, err
	}
	if len(resp.CurrentCondition) == 0 {
		return nil, errors.New("invalid weather data received")
	}
	cur := resp.CurrentCondition[0]
	condition := ""
	if len(cur.WeatherDesc) > 0 {
		condition = cur.WeatherDesc[0].Value
	}

	return map[string]any{
		"city":        city,
		"temperature": cur.TempC,
		"feelsLike":   cur.FeelsLikeC,
		"condition":   condition,
		"humidity":    cur.Humidity,
		"windSpeed":   cur.WindspeedKmph,
		"source":      "wttr.in",
		"timestamp":   time.Now().UnixMilli(),
	}, nil
}

func (p *Weather) defaultCity() string {
	if p.DefaultCity == "" {
		return "London"
	}
	return p.DefaultCity
}
