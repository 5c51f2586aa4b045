package config

import "time"

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ID:      "",
			Address: "localhost:4001",
		},
		Raft: RaftConfig{
			HeartbeatInterval: Duration(100 * time.Millisecond),
			ElectionTimeout:   Duration(500 * time.Millisecond),
			ElectionJitterMin: Duration(150 * time.Millisecond),
			ElectionJitterMax: Duration(300 * time.Millisecond),
			QuorumTimeout:     Duration(time.Second),
			RetryDelay:        Duration(20 * time.Millisecond),
			RPCTimeout:        Duration(2 * time.Second),
			MaxAppendEntries:  256,
			MaxLogEntries:     10000,
			PersistHardState:  true,
		},
		Store: StoreConfig{
			DataDir: "",
		},
		Logging: LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}
