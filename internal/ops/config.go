package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"arclink/pkg/backoff"
	"arclink/pkg/rest"
	"arclink/pkg/wsclient"
)

// Environment overrides, honored over any file value.
const (
	EnvAPIURL = "NEXT_PUBLIC_API_URL"
	EnvWSURL  = "NEXT_PUBLIC_WS_URL"
)

const (
	defaultOrigin     = "http://localhost:8000"
	defaultSocketPath = "/ws"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	API       APIConfig       `json:"api"`
	Socket    SocketConfig    `json:"socket"`
	Journal   JournalConfig   `json:"journal"`
	Profiling ProfilingConfig `json:"profiling"`
}

// APIConfig describes the REST endpoint and its retry policy.
type APIConfig struct {
	BaseURL      string `json:"baseUrl"`
	TimeoutMs    int    `json:"timeoutMs"`
	MaxRetries   *int   `json:"maxRetries"`
	RetryDelayMs int    `json:"retryDelayMs"`
}

// SocketConfig describes the realtime endpoint. An empty URL derives the
// endpoint from the API origin, upgrading http(s) to ws(s).
type SocketConfig struct {
	URL                  string `json:"url"`
	Path                 string `json:"path"`
	ReconnectIntervalMs  int    `json:"reconnectIntervalMs"`
	MaxReconnectAttempts int    `json:"maxReconnectAttempts"`
	HeartbeatIntervalMs  int    `json:"heartbeatIntervalMs"`
	DisableReconnect     bool   `json:"disableReconnect"`
}

// JournalConfig describes the request/event journal sink.
type JournalConfig struct {
	DSN       string `json:"dsn"`
	QueueSize int    `json:"queueSize"`
}

// ProfilingConfig captures optional profiling settings.
type ProfilingConfig struct {
	PyroscopeAddr string `json:"pyroscopeAddr"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	REST      rest.Config
	Socket    wsclient.Config
	Journal   JournalConfig
	Profiling ProfilingConfig
}

// Load reads an optional JSON config file and resolves it against the
// environment. An empty path resolves from environment and defaults only.
func Load(path string) (Loaded, error) {
	var cfg FileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, err
		}
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	origin := cfg.API.BaseURL
	if env := os.Getenv(EnvAPIURL); env != "" {
		origin = env
	}
	if origin == "" {
		origin = defaultOrigin
	}

	restCfg, err := resolveREST(origin, cfg.API)
	if err != nil {
		return Loaded{}, err
	}
	socketCfg, err := resolveSocket(origin, cfg.Socket)
	if err != nil {
		return Loaded{}, err
	}

	return Loaded{
		REST:      restCfg,
		Socket:    socketCfg,
		Journal:   cfg.Journal,
		Profiling: cfg.Profiling,
	}, nil
}

func resolveREST(origin string, cfg APIConfig) (rest.Config, error) {
	if cfg.TimeoutMs < 0 {
		return rest.Config{}, fmt.Errorf("api timeoutMs must be >= 0")
	}
	if cfg.RetryDelayMs < 0 {
		return rest.Config{}, fmt.Errorf("api retryDelayMs must be >= 0")
	}

	out := rest.Config{
		BaseURL: origin,
		Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
	}
	if cfg.MaxRetries != nil || cfg.RetryDelayMs > 0 {
		policy := rest.DefaultPolicy()
		if cfg.MaxRetries != nil {
			if *cfg.MaxRetries < 0 {
				return rest.Config{}, fmt.Errorf("api maxRetries must be >= 0")
			}
			policy.MaxRetries = *cfg.MaxRetries
		}
		if cfg.RetryDelayMs > 0 {
			policy.Delay = backoff.Policy{Base: time.Duration(cfg.RetryDelayMs) * time.Millisecond, Cap: backoff.DefaultCap}
		}
		out.Retry = policy
	}
	return out, nil
}

func resolveSocket(origin string, cfg SocketConfig) (wsclient.Config, error) {
	endpoint := cfg.URL
	if env := os.Getenv(EnvWSURL); env != "" {
		endpoint = env
	}
	if endpoint == "" {
		path := cfg.Path
		if path == "" {
			path = defaultSocketPath
		}
		derived, err := wsclient.EndpointURL(origin, path)
		if err != nil {
			return wsclient.Config{}, fmt.Errorf("derive socket endpoint: %w", err)
		}
		endpoint = derived
	}

	if cfg.ReconnectIntervalMs < 0 || cfg.HeartbeatIntervalMs < 0 || cfg.MaxReconnectAttempts < 0 {
		return wsclient.Config{}, fmt.Errorf("socket intervals must be >= 0")
	}

	return wsclient.Config{
		Endpoint:             endpoint,
		DisableReconnect:     cfg.DisableReconnect,
		ReconnectInterval:    time.Duration(cfg.ReconnectIntervalMs) * time.Millisecond,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		HeartbeatInterval:    time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond,
	}, nil
}
