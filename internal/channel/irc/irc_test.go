package irc

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arko05roy/swarm/internal/config"
	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestNew(t *testing.T) {
	ch := New(config.IRCConfig{Server: "irc.libera.chat", Nick: "swarmbot"}, testLogger())
	assert.Equal(t, "irc", ch.ID())
	assert.Equal(t, "!", ch.cfg.Prefix)
}

func TestStatus_NotStarted(t *testing.T) {
	ch := New(config.IRCConfig{}, testLogger())
	status := ch.Status()

	assert.Equal(t, "irc", status.ChannelID)
	assert.False(t, status.Connected)
	assert.False(t, status.Running)
	assert.Empty(t, status.LastError)
}

func TestSend_NotConnected(t *testing.T) {
	ch := New(config.IRCConfig{}, testLogger())
	err := ch.Send(context.Background(), domain.OutboundMessage{To: "#swarm", Body: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestDefaultPorts(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.IRCConfig
		want int
	}{
		{"TLS defaults to 6697", config.IRCConfig{UseTLS: true}, 6697},
		{"plain defaults to 6667", config.IRCConfig{}, 6667},
		{"explicit port wins", config.IRCConfig{Port: 7000, UseTLS: true}, 7000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.cfg, testLogger()).port())
		})
	}
}

func TestGircConfig(t *testing.T) {
	gc := New(config.IRCConfig{
		Server:   "irc.libera.chat",
		Nick:     "swarmbot",
		UseTLS:   true,
		SASL:     true,
		Password: "hunter2",
	}, testLogger()).gircConfig()

	assert.Equal(t, 6697, gc.Port)
	assert.True(t, gc.SSL)
	require.NotNil(t, gc.TLSConfig)
	assert.Equal(t, "irc.libera.chat", gc.TLSConfig.ServerName)
	assert.NotNil(t, gc.SASL)
	assert.Empty(t, gc.ServerPass)

	gc = New(config.IRCConfig{Server: "irc.test", Nick: "bot", Password: "pw"}, testLogger()).gircConfig()
	assert.Nil(t, gc.SASL)
	assert.Equal(t, "pw", gc.ServerPass)
	assert.Nil(t, gc.TLSConfig)
}

func TestInbound(t *testing.T) {
	ch := New(config.IRCConfig{Nick: "swarmbot"}, testLogger())

	msg, ok := ch.inbound("swarmbot", "alice", "#swarm", "  !run echo-core {}  ")
	require.True(t, ok)
	assert.Equal(t, "irc", msg.ChannelID)
	assert.Equal(t, "alice", msg.From)
	assert.Equal(t, "#swarm", msg.ChatID)
	assert.Equal(t, domain.ChatTypeGroup, msg.ChatType)
	assert.Equal(t, "run echo-core {}", msg.Body)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "#swarm", msg.ReplyTarget())

	msg, ok = ch.inbound("swarmbot", "bob", "swarmbot", "!portfolio")
	require.True(t, ok)
	assert.Equal(t, domain.ChatTypeDM, msg.ChatType)
	assert.Equal(t, "bob", msg.ChatID)
	assert.Equal(t, "bob", msg.ReplyTarget())
}

func TestInboundIgnored(t *testing.T) {
	ch := New(config.IRCConfig{Nick: "swarmbot"}, testLogger())

	for _, tc := range []struct{ name, from, body string }{
		{"no prefix", "alice", "hello there"},
		{"bare prefix", "alice", "!"},
		{"own message", "SwarmBot", "!agents"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := ch.inbound("swarmbot", tc.from, "#swarm", tc.body)
			assert.False(t, ok)
		})
	}
}

func TestInboundCustomPrefix(t *testing.T) {
	ch := New(config.IRCConfig{Prefix: "swarm: "}, testLogger())
	msg, ok := ch.inbound("bot", "alice", "#swarm", "swarm: top")
	require.True(t, ok)
	assert.Equal(t, "top", msg.Body)
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"hello world"}, splitMessage("hello world", 400))
	assert.Equal(t, []string{"line one", "line two"}, splitMessage("line one\r\n\nline two\n", 400))
	assert.Empty(t, splitMessage("", 400))

	long := strings.Repeat("a", 25)
	chunks := splitMessage(long, 10)
	assert.Equal(t, []string{"aaaaaaaaaa", "aaaaaaaaaa", "aaaaa"}, chunks)
}

func TestSplitMessageKeepsRunes(t *testing.T) {
	chunks := splitMessage(strings.Repeat("é", 5), 5)
	assert.Equal(t, []string{"éé", "éé", "é"}, chunks)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
	}
}

func TestStartRetriesUntilStopped(t *testing.T) {
	ch := New(config.IRCConfig{Server: "127.0.0.1", Port: 1, Nick: "swarmbot"}, testLogger())

	done := make(chan error, 1)
	go func() { done <- ch.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		st := ch.Status()
		return st.Running && st.LastError != ""
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, ch.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.False(t, ch.Status().Running)
}
