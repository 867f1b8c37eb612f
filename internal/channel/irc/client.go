// Package irc implements the IRC chat channel using the girc library.
package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"

	"github.com/arko05roy/swarm/internal/config"
	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/logging"
	"github.com/arko05roy/swarm/internal/version"
)

// maxLineLen keeps PRIVMSG lines under the 512 byte protocol limit once
// the command and target are added.
const maxLineLen = 400

// Channel implements domain.Channel for IRC.
type Channel struct {
	cfg    config.IRCConfig
	client *girc.Client
	log    *logging.Logger

	mu      sync.RWMutex
	handler func(msg domain.InboundMessage)
	running bool
	lastErr string

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates an IRC channel from configuration.
func New(cfg config.IRCConfig, log *logging.Logger) *Channel {
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	return &Channel{
		cfg:  cfg,
		log:  log.Sub("irc"),
		stop: make(chan struct{}),
	}
}

func (c *Channel) ID() string { return "irc" }

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: "irc",
		Connected: c.client != nil && c.client.IsConnected(),
		Running:   c.running,
		LastError: c.lastErr,
	}
}

func (c *Channel) port() int {
	if c.cfg.Port != 0 {
		return c.cfg.Port
	}
	if c.cfg.UseTLS {
		return 6697
	}
	return 6667
}

func (c *Channel) gircConfig() girc.Config {
	gc := girc.Config{
		Server:  c.cfg.Server,
		Port:    c.port(),
		Nick:    c.cfg.Nick,
		User:    c.cfg.Nick,
		Name:    "Swarm Agent Marketplace",
		SSL:     c.cfg.UseTLS,
		Version: "SwarmBot/" + version.Version,
	}
	if c.cfg.UseTLS {
		gc.TLSConfig = &tls.Config{ServerName: c.cfg.Server}
	}
	if c.cfg.SASL && c.cfg.Password != "" {
		gc.SASL = &girc.SASLPlain{User: c.cfg.Nick, Pass: c.cfg.Password}
	} else if c.cfg.Password != "" {
		gc.ServerPass = c.cfg.Password
	}
	return gc
}

// Reconnect backoff bounds. A connection that stayed up for stableAfter
// resets the backoff.
const (
	backoffMin  = time.Second
	backoffMax  = 2 * time.Minute
	stableAfter = time.Minute
)

// Start connects and keeps reconnecting with exponential backoff until ctx
// is done or Stop is called. A stopped channel cannot be started again.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	c.running = true
	c.lastErr = ""
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	wait := backoffMin
	for {
		began := time.Now()
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.isStopped() {
			return nil
		}
		if err != nil {
			c.setError(err)
		}
		if time.Since(began) > stableAfter {
			wait = backoffMin
		}
		c.log.Warn().Err(err).Dur("retryIn", wait).Msg("irc connection lost")

		select {
		case <-time.After(wait):
		case <-c.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
		wait = min(wait*2, backoffMax)
	}
}

// connect runs one connection until it ends or ctx is done.
func (c *Channel) connect(ctx context.Context) error {
	client := girc.New(c.gircConfig())
	client.Handlers.Add(girc.CONNECTED, c.onConnected)
	client.Handlers.Add(girc.PRIVMSG, c.onPrivmsg)
	client.Handlers.Add(girc.DISCONNECTED, c.onDisconnected)

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	c.log.Info().
		Str("server", c.cfg.Server).
		Int("port", c.port()).
		Str("nick", c.cfg.Nick).
		Bool("tls", c.cfg.UseTLS).
		Msg("connecting to IRC")

	done := make(chan error, 1)
	go func() { done <- client.Connect() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("irc connect: %w", err)
		}
		return nil
	case <-c.stop:
		return nil
	case <-ctx.Done():
		client.Close()
		return ctx.Err()
	}
}

func (c *Channel) isStopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Channel) setError(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

// Stop quits the server and ends Start.
func (c *Channel) Stop(_ context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.client.IsConnected() {
		c.log.Info().Msg("disconnecting from IRC")
		c.client.Quit("swarm shutting down")
	} else if c.client != nil {
		c.client.Close()
	}
	return nil
}

// Send delivers a reply to an IRC channel or user, one PRIVMSG per line.
func (c *Channel) Send(_ context.Context, msg domain.OutboundMessage) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		return fmt.Errorf("irc: not connected")
	}
	if msg.To == "" {
		return fmt.Errorf("irc: no target specified")
	}

	lines := splitMessage(msg.Body, maxLineLen)
	for _, line := range lines {
		client.Cmd.Message(msg.To, line)
	}

	c.log.Debug().Str("to", msg.To).Int("lines", len(lines)).Msg("sent IRC message")
	return nil
}

func (c *Channel) onConnected(client *girc.Client, _ girc.Event) {
	c.log.Info().Str("nick", client.GetNick()).Msg("connected to IRC")
	for _, ch := range c.cfg.Channels {
		client.Cmd.Join(ch)
		c.log.Info().Str("channel", ch).Msg("joined channel")
	}
}

func (c *Channel) onPrivmsg(client *girc.Client, e girc.Event) {
	if e.Source == nil || len(e.Params) == 0 {
		return
	}
	msg, ok := c.inbound(client.GetNick(), e.Source.Name, e.Params[0], e.Last())
	if !ok {
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

// inbound turns a PRIVMSG into a command message. Only lines starting with
// the command prefix are delivered; the bot's own lines are ignored.
func (c *Channel) inbound(self, from, target, body string) (domain.InboundMessage, bool) {
	if strings.EqualFold(from, self) {
		return domain.InboundMessage{}, false
	}
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, c.cfg.Prefix) || len(body) == len(c.cfg.Prefix) {
		return domain.InboundMessage{}, false
	}

	msg := domain.InboundMessage{
		ID:        uuid.NewString(),
		ChannelID: "irc",
		From:      from,
		ChatID:    from,
		ChatType:  domain.ChatTypeDM,
		Body:      strings.TrimPrefix(body, c.cfg.Prefix),
		Timestamp: time.Now(),
	}
	if girc.IsValidChannel(target) {
		msg.ChatID = target
		msg.ChatType = domain.ChatTypeGroup
	}
	return msg, true
}

func (c *Channel) onDisconnected(_ *girc.Client, _ girc.Event) {
	c.log.Debug().Msg("disconnected from IRC")
}

// splitMessage breaks text into IRC lines. Each newline starts a new line,
// blank lines are dropped and lines longer than maxLen bytes are cut on a
// rune boundary.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		for len(line) > maxLen {
			cut := maxLen
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if strings.TrimSpace(line) != "" {
			chunks = append(chunks, line)
		}
	}
	return chunks
}
