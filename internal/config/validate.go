package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

type validator struct {
	issues []ValidationIssue
}

func (v *validator) add(path, format string, args ...any) {
	v.issues = append(v.issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) oneOf(path, value string, valid []string) {
	if value != "" && !slices.Contains(valid, value) {
		v.add(path, "must be one of %v, got %q", valid, value)
	}
}

func (v *validator) port(path string, port int) {
	if port < 0 || port > 65535 {
		v.add(path, "port must be 0-65535, got %d", port)
	}
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	v := &validator{}

	// Engine
	if cfg.Engine.MaxConcurrent < 0 {
		v.add("engine.maxConcurrent", "must not be negative, got %d", cfg.Engine.MaxConcurrent)
	}
	if cfg.Engine.TimeoutMs < 0 {
		v.add("engine.timeoutMs", "must not be negative, got %d", cfg.Engine.TimeoutMs)
	}
	if cfg.Engine.HistorySize < 0 {
		v.add("engine.historySize", "must not be negative, got %d", cfg.Engine.HistorySize)
	}

	// Store
	v.oneOf("store.driver", cfg.Store.Driver, []string{"sqlite", "mysql"})
	if cfg.Store.Driver == "mysql" && cfg.Store.DSN == "" {
		v.add("store.dsn", "required when driver is mysql")
	}
	if cfg.Store.AutosaveSeconds < 0 {
		v.add("store.autosaveSeconds", "must not be negative, got %d", cfg.Store.AutosaveSeconds)
	}

	// Gateway
	v.port("gateway.port", cfg.Gateway.Port)
	v.oneOf("gateway.bind", cfg.Gateway.Bind, []string{"auto", "lan", "loopback", "custom"})
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		v.add("gateway.customBindHost", "required when bind is custom")
	}
	v.oneOf("gateway.auth.mode", cfg.Gateway.Auth.Mode, []string{"token", "password"})
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		v.add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}

	// IRC (only if configured)
	if irc := cfg.Channels.IRC; irc != nil {
		if irc.Server == "" {
			v.add("channels.irc.server", "server is required")
		}
		if irc.Nick == "" {
			v.add("channels.irc.nick", "nick is required")
		}
		v.port("channels.irc.port", irc.Port)
		if irc.SASL && irc.Password == "" {
			v.add("channels.irc.sasl", "SASL requires a password to be set")
		}
	}

	// Wallet
	v.oneOf("wallet.driver", cfg.Wallet.Driver, []string{"none", "memory", "ethereum"})
	if cfg.Wallet.Driver == "ethereum" {
		if cfg.Wallet.RPCURL == "" {
			v.add("wallet.rpcUrl", "required when driver is ethereum")
		}
		if cfg.Wallet.PrivateKey == "" {
			v.add("wallet.privateKey", "required when driver is ethereum")
		}
	}

	// Rate limits
	v.oneOf("rateLimit.driver", cfg.RateLimit.Driver, []string{"memory", "redis"})
	if cfg.RateLimit.Driver == "redis" && cfg.RateLimit.Addr == "" {
		v.add("rateLimit.addr", "required when driver is redis")
	}
	for action, max := range cfg.RateLimit.Limits {
		if max < 0 {
			v.add("rateLimit.limits."+action, "must not be negative, got %d", max)
		}
	}

	// Logging
	v.oneOf("logging.level", cfg.Logging.Level,
		[]string{"silent", "fatal", "error", "warn", "info", "debug", "trace"})
	v.oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "compact", "json"})
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxBackups < 0 || cfg.Logging.MaxAgeDays < 0 {
		v.add("logging", "rotation limits must not be negative")
	}

	// Agents
	for i, a := range cfg.Agents {
		if a.Template == "" {
			v.add(fmt.Sprintf("agents[%d].template", i), "template is required")
		}
		if a.BasePrice < 0 || a.PricePerCall < 0 {
			v.add(fmt.Sprintf("agents[%d]", i), "prices must not be negative")
		}
	}

	return v.issues
}
