package logger

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	charmlog "github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferConfig(buf *bytes.Buffer, level LogLevel, asJSON bool) *Config {
	return &Config{Level: level, Output: buf, JSON: asJSON, TimeFormat: "15:04:05"}
}

func TestFromContext(t *testing.T) {
	t.Run("Should return the logger stored in the context", func(t *testing.T) {
		stored := NewForTests()
		ctx := ContextWithLogger(t.Context(), stored)

		assert.Same(t, stored, FromContext(ctx))
	})

	cases := map[string]context.Context{
		"no value":    context.Background(),
		"wrong type":  context.WithValue(context.Background(), LoggerCtxKey, "not a logger"),
		"nil logger":  context.WithValue(context.Background(), LoggerCtxKey, Logger(nil)),
		"nil context": nil,
	}
	for name, ctx := range cases {
		t.Run("Should fall back to the default logger with "+name, func(t *testing.T) {
			l := FromContext(ctx)
			require.NotNil(t, l)
			assert.Same(t, GetDefault(), l)
		})
	}
}

func TestLogLevel_ToCharmlogLevel(t *testing.T) {
	t.Run("Should map every level and default unknown values to info", func(t *testing.T) {
		expected := map[LogLevel]charmlog.Level{
			DebugLevel:    charmlog.DebugLevel,
			InfoLevel:     charmlog.InfoLevel,
			WarnLevel:     charmlog.WarnLevel,
			ErrorLevel:    charmlog.ErrorLevel,
			DisabledLevel: disabledCharmLevel,
			"verbose":     charmlog.InfoLevel,
		}
		for level, want := range expected {
			assert.Equal(t, want, level.ToCharmlogLevel(), "level %q", level)
		}
	})
}

func TestParseLevel(t *testing.T) {
	t.Run("Should accept known levels and fall back to info", func(t *testing.T) {
		assert.Equal(t, DebugLevel, ParseLevel("debug"))
		assert.Equal(t, DisabledLevel, ParseLevel("disabled"))
		assert.Equal(t, InfoLevel, ParseLevel("verbose"))
		assert.Equal(t, InfoLevel, ParseLevel(""))
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("Should write text records with context fields", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(bufferConfig(&buf, InfoLevel, false)).With("session_id", "abc")

		l.Info("session opened")

		assert.Contains(t, buf.String(), "session opened")
		assert.Contains(t, buf.String(), "session_id=abc")
	})

	t.Run("Should write JSON records when enabled", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogger(bufferConfig(&buf, InfoLevel, true)).Info("search finished")

		out := strings.TrimSpace(buf.String())
		assert.True(t, strings.HasPrefix(out, "{"))
		assert.Contains(t, out, `"msg":"search finished"`)
	})

	t.Run("Should drop records below the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(bufferConfig(&buf, WarnLevel, false))

		l.Debug("debug record")
		l.Info("info record")
		l.Warn("warn record")
		l.Error("error record")

		assert.NotContains(t, buf.String(), "debug record")
		assert.NotContains(t, buf.String(), "info record")
		assert.Contains(t, buf.String(), "warn record")
		assert.Contains(t, buf.String(), "error record")
	})

	t.Run("Should write nothing when disabled", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(bufferConfig(&buf, DisabledLevel, false))

		l.Error("error record")

		assert.Empty(t, buf.String())
	})

	t.Run("Should use the silent test config for a nil config under go test", func(t *testing.T) {
		require.True(t, IsTestEnvironment())
		require.NotNil(t, NewLogger(nil))
	})
}

func TestConfigDefaults(t *testing.T) {
	t.Run("Should log info to stdout by default and discard in tests", func(t *testing.T) {
		def := DefaultConfig()
		assert.Equal(t, InfoLevel, def.Level)
		assert.Equal(t, os.Stdout, def.Output)

		test := TestConfig()
		assert.Equal(t, DisabledLevel, test.Level)
		assert.Equal(t, io.Discard, test.Output)
	})
}

func TestInit(t *testing.T) {
	t.Run("Should install the process-wide default logger", func(t *testing.T) {
		var buf bytes.Buffer
		installed := Init(bufferConfig(&buf, InfoLevel, false))
		t.Cleanup(func() { Init(TestConfig()) })

		FromContext(context.Background()).Info("routed through default")

		assert.Same(t, installed, GetDefault())
		assert.Contains(t, buf.String(), "routed through default")
	})
}

func TestSetupLogger(t *testing.T) {
	t.Run("Should return the installed default logger", func(t *testing.T) {
		l := SetupLogger(DisabledLevel, true, false)
		t.Cleanup(func() { Init(TestConfig()) })

		assert.Same(t, l, GetDefault())
	})
}
