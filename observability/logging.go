// Package observability holds the tracing, logging, and metrics spine: an
// in-memory span tracer with sampling and timeouts, an OpenTelemetry export
// bridge, prometheus counters, and the logger factory.
package observability

import (
	"strings"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"
	"github.com/kart-io/logger/option"

	"github.com/kart-io/agentflow/config"
)

// NewLogger builds a structured logger from opts. Level "silent" yields a
// no-op logger; on factory failure a no-op logger is returned so callers
// never hold a nil logger.
func NewLogger(opts config.LoggerOptions) core.Logger {
	if strings.EqualFold(opts.Level, "silent") {
		return core.NewNoOpLogger(nil)
	}

	format := "json"
	if opts.PrettyPrint {
		format = "console"
	}

	l, err := logger.New(&option.LogOption{
		Engine:            "zap",
		Level:             mapLevel(opts.Level),
		Format:            format,
		OutputPaths:       []string{"stdout"},
		Development:       opts.PrettyPrint,
		DisableCaller:     false,
		DisableStacktrace: true,
	})
	if err != nil {
		return core.NewNoOpLogger(err)
	}
	return l
}

// mapLevel translates the config level names to the logger engine's. "trace"
// has no engine equivalent and maps to DEBUG.
func mapLevel(level string) string {
	switch strings.ToLower(level) {
	case "fatal":
		return "FATAL"
	case "error":
		return "ERROR"
	case "warn":
		return "WARN"
	case "debug", "trace":
		return "DEBUG"
	default:
		return "INFO"
	}
}

// RedactKV masks the values of redacted keys in a key/value list before it
// reaches a log sink. Keys are matched case-insensitively.
func RedactKV(redact []string, keysAndValues ...interface{}) []interface{} {
	if len(redact) == 0 {
		return keysAndValues
	}
	out := make([]interface{}, len(keysAndValues))
	copy(out, keysAndValues)
	for i := 0; i+1 < len(out); i += 2 {
		key, ok := out[i].(string)
		if !ok {
			continue
		}
		for _, r := range redact {
			if strings.EqualFold(key, r) {
				out[i+1] = "[REDACTED]"
				break
			}
		}
	}
	return out
}
