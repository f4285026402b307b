package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProductionLogger is the default Logger implementation: JSON lines in
// production/Kubernetes, human-readable text for local development. Format
// and level follow the three-layer precedence documented on Config.
type ProductionLogger struct {
	mu          sync.Mutex
	level       string
	debug       bool
	serviceName string
	format      string
	output      io.Writer
}

// NewProductionLogger builds a ProductionLogger from a LoggingConfig.
func NewProductionLogger(cfg LoggingConfig, serviceName string) Logger {
	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	format := cfg.Format
	if format == "" {
		format = "text"
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			format = "json"
		}
	}
	level := strings.ToUpper(cfg.Level)
	if level == "" {
		level = "INFO"
	}
	return &ProductionLogger{
		level:       level,
		debug:       level == "DEBUG",
		serviceName: serviceName,
		format:      format,
		output:      out,
	}
}

func (p *ProductionLogger) Info(msg string, f map[string]interface{})  { p.log("INFO", msg, f, nil) }
func (p *ProductionLogger) Warn(msg string, f map[string]interface{})  { p.log("WARN", msg, f, nil) }
func (p *ProductionLogger) Error(msg string, f map[string]interface{}) { p.log("ERROR", msg, f, nil) }
func (p *ProductionLogger) Debug(msg string, f map[string]interface{}) {
	if p.debug {
		p.log("DEBUG", msg, f, nil)
	}
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, f map[string]interface{}) {
	p.log("INFO", msg, f, ctx)
}
func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, f map[string]interface{}) {
	p.log("WARN", msg, f, ctx)
}
func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, f map[string]interface{}) {
	p.log("ERROR", msg, f, ctx)
}
func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, f map[string]interface{}) {
	if p.debug {
		p.log("DEBUG", msg, f, ctx)
	}
}

func (p *ProductionLogger) log(level, msg string, fields map[string]interface{}, ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"level":     level,
			"service":   p.serviceName,
			"message":   msg,
		}
		if rid := RequestIDFromContext(ctx); rid != "" {
			entry["request_id"] = rid
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
		return
	}

	prefix := ""
	if rid := RequestIDFromContext(ctx); rid != "" {
		prefix = fmt.Sprintf("[req=%s] ", rid)
	}
	fmt.Fprintf(p.output, "%s [%s] %s%s %v\n", time.Now().Format(time.RFC3339), level, prefix, msg, fields)
}

type requestIDKey struct{}

// WithRequestID attaches a request/workflow correlation id to ctx so that
// loggers and traces downstream can stitch related log lines together.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext retrieves the id set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}
