package config

// Config is the root configuration for swarm.
type Config struct {
	Engine    EngineConfig    `yaml:"engine,omitempty"`
	Ledger    LedgerConfig    `yaml:"ledger,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	Channels  ChannelsConfig  `yaml:"channels,omitempty"`
	Wallet    WalletConfig    `yaml:"wallet,omitempty"`
	RateLimit RateLimitConfig `yaml:"rateLimit,omitempty"`
	Events    EventsConfig    `yaml:"events,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Agents    []AgentEntry    `yaml:"agents,omitempty"` // extra template agents registered at startup
}

// EngineConfig bounds agent execution.
type EngineConfig struct {
	MaxConcurrent int `yaml:"maxConcurrent,omitempty"`
	TimeoutMs     int `yaml:"timeoutMs,omitempty"`
	HistorySize   int `yaml:"historySize,omitempty"`
}

// LedgerConfig controls investment payouts.
type LedgerConfig struct {
	PayoutAsset string `yaml:"payoutAsset,omitempty"` // display unit for amounts
}

// StoreConfig selects where snapshots and the execution log live.
type StoreConfig struct {
	Driver            string `yaml:"driver,omitempty"` // "sqlite" | "mysql"
	Path              string `yaml:"path,omitempty"`   // sqlite file; defaults to <home>/data/swarm.db
	DSN               string `yaml:"dsn,omitempty"`    // mysql DSN
	AutosaveSeconds   int    `yaml:"autosaveSeconds,omitempty"`
	ArchiveExecutions bool   `yaml:"archiveExecutions,omitempty"`
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// ChannelsConfig defines chat channel configurations.
type ChannelsConfig struct {
	IRC *IRCConfig `yaml:"irc,omitempty"`
}

// IRCConfig defines IRC channel settings.
type IRCConfig struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port,omitempty"`
	Nick     string   `yaml:"nick"`
	Password string   `yaml:"password,omitempty"`
	Channels []string `yaml:"channels"`
	UseTLS   bool     `yaml:"useTLS,omitempty"`
	SASL     bool     `yaml:"sasl,omitempty"`
	Prefix   string   `yaml:"prefix,omitempty"` // command prefix, default "!"
}

// WalletConfig selects how withdrawals and escrow releases are paid out.
type WalletConfig struct {
	Driver     string            `yaml:"driver,omitempty"` // "none" | "memory" | "ethereum"
	RPCURL     string            `yaml:"rpcUrl,omitempty"`
	PrivateKey string            `yaml:"privateKey,omitempty"`
	Addresses  map[string]string `yaml:"addresses,omitempty"` // user id -> payout address
}

// RateLimitConfig caps per-user actions per hour.
type RateLimitConfig struct {
	Driver   string         `yaml:"driver,omitempty"` // "memory" | "redis"
	Addr     string         `yaml:"addr,omitempty"`
	Password string         `yaml:"password,omitempty"`
	DB       int            `yaml:"db,omitempty"`
	Limits   map[string]int `yaml:"limits,omitempty"` // action -> max per hour, 0 disables
}

// EventsConfig forwards hook events to an AMQP exchange when URL is set.
type EventsConfig struct {
	AMQPURL  string `yaml:"amqpUrl,omitempty"`
	Exchange string `yaml:"exchange,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	MaxSizeMB    int    `yaml:"maxSizeMB,omitempty"`  // rotate the file past this size
	MaxBackups   int    `yaml:"maxBackups,omitempty"` // rotated files to keep
	MaxAgeDays   int    `yaml:"maxAgeDays,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// AgentEntry registers an agent built from a provider catalog template.
type AgentEntry struct {
	Template     string   `yaml:"template"`
	ID           string   `yaml:"id,omitempty"`
	Name         string   `yaml:"name,omitempty"`
	Owner        string   `yaml:"owner,omitempty"`
	Capabilities []string `yaml:"capabilities,omitempty"`
	BasePrice    float64  `yaml:"basePrice,omitempty"`
	PricePerCall float64  `yaml:"pricePerCall,omitempty"`
}
