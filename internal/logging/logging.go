// Package logging provides structured logging configuration.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration options.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
	// Output is "stderr", "stdout" or a file path. Empty means stderr.
	Output string
}

// New creates a new configured zap logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	var zcfg zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zcfg = zap.NewProductionConfig()
		// Rejected-message bursts are logged in full.
		zcfg.Sampling = nil
	case "console":
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	output := cfg.Output
	if output == "" {
		output = "stderr"
	}
	zcfg.OutputPaths = []string{output}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "beehive")), nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	return Config{
		Level:  getenv("BEEHIVE_LOG_LEVEL", "info"),
		Format: getenv("BEEHIVE_LOG_FORMAT", "json"),
		Output: getenv("BEEHIVE_LOG_OUTPUT", "stderr"),
	}
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Component returns a zap field for the component name.
func Component(name string) zap.Field { return zap.String("component", name) }

// Port returns a zap field for the port number.
func Port(port int) zap.Field { return zap.Int("port", port) }

// Addr returns a zap field for an address.
func Addr(addr string) zap.Field { return zap.String("addr", addr) }

// Domain returns a zap field for a domain name.
func Domain(domain string) zap.Field { return zap.String("domain", domain) }

// SessionID returns a zap field for a session id.
func SessionID(id string) zap.Field { return zap.String("session_id", id) }

// DroneID returns a zap field for a drone id.
func DroneID(id string) zap.Field { return zap.String("drone_id", id) }

// Origin returns a zap field for a session origin.
func Origin(origin string) zap.Field { return zap.String("origin", origin) }

// Classification returns a zap field for a session classification.
func Classification(c string) zap.Field { return zap.String("classification", c) }

// Protocol returns a zap field for a protocol name.
func Protocol(proto string) zap.Field { return zap.String("protocol", proto) }

// Command returns a zap field for a command verb.
func Command(cmd string) zap.Field { return zap.String("command", cmd) }

// MessageType returns a zap field for a drone message type.
func MessageType(t string) zap.Field { return zap.String("message_type", t) }

// Subject returns a zap field for a message bus subject.
func Subject(subject string) zap.Field { return zap.String("subject", subject) }

// RemoteIP returns a zap field for a remote IP address.
func RemoteIP(ip string) zap.Field { return zap.String("remote_ip", ip) }

// Net returns a zap field for a network type.
func Net(net string) zap.Field { return zap.String("net", net) }

// QName returns a zap field for a DNS query name.
func QName(qname string) zap.Field { return zap.String("qname", qname) }

// QType returns a zap field for a DNS query type.
func QType(qtype string) zap.Field { return zap.String("qtype", qtype) }
