package server

import "github.com/matteso1/kvs/internal/storage"

// Config holds the settings of a kvs server process.
type Config struct {
	// Addr is the gRPC listen address.
	Addr string
	// MetricsAddr is the HTTP address serving /metrics. Empty disables it.
	MetricsAddr string
	DataDir     string
	// Engine names the storage engine: EngineKVS or EngineBolt.
	Engine  string
	Storage storage.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:    "127.0.0.1:4000",
		DataDir: "./data",
		Engine:  EngineKVS,
		Storage: storage.DefaultConfig(),
	}
}
