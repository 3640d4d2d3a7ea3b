package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	NodeID      string
	Hostname    string
	ListenAddr  string
	MetricsPath string
	LibvirtURI  string
	ProcRoot    string

	CollectInterval  time.Duration
	SampleWindow     time.Duration
	ClockTick        int64
	StaleAfterCycles int
	ErrorBackoff     time.Duration

	HealthInterval     time.Duration
	ReconnectInterval  time.Duration
	MaxReconnectJitter time.Duration
	ShutdownTimeout    time.Duration

	StreamEnabled    bool
	BackendGRPCAddr  string
	GRPCStreamMethod string
	BackendToken     string

	TLSEnabled    bool
	TLSSkipVerify bool
	TLSCAPath     string
	TLSCertPath   string
	TLSKeyPath    string

	LogJSON  bool
	LogLevel string
}

// Load builds the configuration from KVIRT_* environment variables, with
// an optional .env file merged in first. Every knob has a default good
// enough for a stock libvirt host.
func Load() (Config, error) {
	_ = godotenv.Load()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	cfg := Config{
		NodeID:      env("KVIRT_NODE_ID", hostname),
		Hostname:    hostname,
		ListenAddr:  env("KVIRT_LISTEN_ADDR", ":8099"),
		MetricsPath: env("KVIRT_METRICS_PATH", "/metrics"),
		LibvirtURI:  env("KVIRT_LIBVIRT_URI", "qemu+unix:///system"),
		ProcRoot:    env("KVIRT_PROC_ROOT", "/proc"),

		CollectInterval:  envDuration("KVIRT_COLLECT_INTERVAL", 5*time.Second),
		SampleWindow:     envDuration("KVIRT_SAMPLE_WINDOW", 100*time.Millisecond),
		ClockTick:        int64(envInt("KVIRT_CLOCK_TICK", 0)),
		StaleAfterCycles: envInt("KVIRT_STALE_AFTER_CYCLES", 3),
		ErrorBackoff:     envDuration("KVIRT_ERROR_BACKOFF", time.Second),

		HealthInterval:     envDuration("KVIRT_HEALTH_INTERVAL", 10*time.Second),
		ReconnectInterval:  envDuration("KVIRT_RECONNECT_INTERVAL", 4*time.Second),
		MaxReconnectJitter: envDuration("KVIRT_RECONNECT_MAX_JITTER", 900*time.Millisecond),
		ShutdownTimeout:    envDuration("KVIRT_SHUTDOWN_TIMEOUT", 20*time.Second),

		StreamEnabled:    envBool("KVIRT_STREAM_ENABLED", false),
		BackendGRPCAddr:  env("KVIRT_BACKEND_GRPC_ADDR", "127.0.0.1:3001"),
		GRPCStreamMethod: env("KVIRT_GRPC_STREAM_METHOD", "/kvirt.metrics.v1.MetricsService/StreamVMCPUSamples"),
		BackendToken:     env("KVIRT_BACKEND_TOKEN", ""),

		TLSEnabled:    envBool("KVIRT_TLS_ENABLED", false),
		TLSSkipVerify: envBool("KVIRT_TLS_SKIP_VERIFY", false),
		TLSCAPath:     env("KVIRT_TLS_CA_PATH", ""),
		TLSCertPath:   env("KVIRT_TLS_CERT_PATH", ""),
		TLSKeyPath:    env("KVIRT_TLS_KEY_PATH", ""),

		LogJSON:  envBool("KVIRT_LOG_JSON", false),
		LogLevel: strings.ToLower(env("KVIRT_LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("KVIRT_NODE_ID is required")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("KVIRT_LISTEN_ADDR is required")
	}
	if !strings.HasPrefix(c.MetricsPath, "/") {
		return fmt.Errorf("KVIRT_METRICS_PATH must start with /, got %q", c.MetricsPath)
	}
	if c.LibvirtURI == "" {
		return errors.New("KVIRT_LIBVIRT_URI is required")
	}
	if c.CollectInterval <= 0 {
		return errors.New("KVIRT_COLLECT_INTERVAL must be > 0")
	}
	if c.SampleWindow <= 0 {
		return errors.New("KVIRT_SAMPLE_WINDOW must be > 0")
	}
	if c.SampleWindow >= c.CollectInterval {
		return errors.New("KVIRT_SAMPLE_WINDOW must be shorter than KVIRT_COLLECT_INTERVAL")
	}
	if c.ClockTick < 0 {
		return errors.New("KVIRT_CLOCK_TICK must be >= 0")
	}
	if c.HealthInterval <= 0 {
		return errors.New("KVIRT_HEALTH_INTERVAL must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("KVIRT_SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.StreamEnabled {
		if c.BackendGRPCAddr == "" {
			return errors.New("KVIRT_BACKEND_GRPC_ADDR is required when streaming is enabled")
		}
		if strings.TrimSpace(c.GRPCStreamMethod) == "" {
			return errors.New("KVIRT_GRPC_STREAM_METHOD is required when streaming is enabled")
		}
	}
	return nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load TLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
