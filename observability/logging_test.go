package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/agentflow/config"
)

func TestNewLoggerSilent(t *testing.T) {
	l := NewLogger(config.LoggerOptions{Level: "silent"})
	require.NotNil(t, l)
	assert.NotPanics(t, func() {
		l.Infow("should vanish", "key", "value")
	})
}

func TestNewLoggerNeverNil(t *testing.T) {
	for _, level := range []string{"fatal", "error", "warn", "info", "debug", "trace"} {
		l := NewLogger(config.LoggerOptions{Level: level})
		require.NotNil(t, l, "level %s", level)
	}
}

func TestMapLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"fatal", "FATAL"},
		{"error", "ERROR"},
		{"warn", "WARN"},
		{"info", "INFO"},
		{"debug", "DEBUG"},
		{"trace", "DEBUG"},
		{"WARN", "WARN"},
		{"unknown", "INFO"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapLevel(tt.in), "level %s", tt.in)
	}
}

func TestRedactKV(t *testing.T) {
	in := []interface{}{"user", "alice", "api_key", "sk-123", "Token", "abc"}
	out := RedactKV([]string{"api_key", "token"}, in...)

	assert.Equal(t, []interface{}{"user", "alice", "api_key", "[REDACTED]", "Token", "[REDACTED]"}, out)
	// Input is untouched.
	assert.Equal(t, "sk-123", in[3])
}

func TestRedactKVNoRules(t *testing.T) {
	in := []interface{}{"k", "v"}
	assert.Equal(t, in, RedactKV(nil, in...))
}
