package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := Errorf(CodeOverloaded, "max concurrent executions reached (%d)", 10)
	assert.True(t, errors.Is(err, ErrOverloaded))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, "max concurrent executions reached (10)", err.Error())

	wrapped := fmt.Errorf("engine: %w", err)
	assert.True(t, errors.Is(wrapped, ErrOverloaded))
	assert.Equal(t, CodeOverloaded, CodeOf(wrapped))
}

func TestErrorDefaultsAndWrap(t *testing.T) {
	err := Errorf(CodeNoPosition, "")
	assert.Equal(t, "no investment position", err.Error())

	cause := errors.New("connection refused")
	wrapped := Wrap(CodeTransferFailed, cause, "")
	assert.Equal(t, "transfer failed: connection refused", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
	assert.True(t, wrapped.Retryable())
	assert.False(t, Errorf(CodeInvalidAmount, "").Retryable())
}

func TestErrorWithCopiesFields(t *testing.T) {
	base := Errorf(CodeInsufficientBalance, "")
	a := base.With("available", 12.5)
	b := a.With("requested", 20.0)

	assert.Nil(t, base.Fields)
	assert.Len(t, a.Fields, 1)
	assert.Len(t, b.Fields, 2)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeNotFound, CodeOf(Errorf(CodeNotFound, "")))
}

func TestReplyTarget(t *testing.T) {
	group := InboundMessage{From: "alice", ChatID: "#swarm", ChatType: ChatTypeGroup}
	dm := InboundMessage{From: "alice", ChatID: "bot", ChatType: ChatTypeDM}
	assert.Equal(t, "#swarm", group.ReplyTarget())
	assert.Equal(t, "alice", dm.ReplyTarget())
}
