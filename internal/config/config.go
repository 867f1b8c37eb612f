package config

import "fmt"

// Rate limited actions.
const (
	ActionRun      = "run"
	ActionInvest   = "invest"
	ActionWithdraw = "withdraw"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

func defaultLimits() map[string]int {
	return map[string]int{
		ActionRun:      30,
		ActionInvest:   20,
		ActionWithdraw: 10,
	}
}
