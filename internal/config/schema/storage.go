package schema

import "time"

// StorageConfig contains local cache, remote store and sync settings
type StorageConfig struct {
	// Prefix is prepended to every Redis key
	Prefix   string         `yaml:"prefix" json:"prefix"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
	Sync     SyncConfig     `yaml:"sync" json:"sync"`
	// SealKey encrypts credentials and key material before they leave the process.
	// 64 hex chars or 32 raw bytes; empty disables sealing
	SealKey Secret `yaml:"seal_key" json:"seal_key"`
}

// RedisConfig contains Redis settings for the local cache
type RedisConfig struct {
	// Embedded runs an in-process Redis instead of dialing Addr
	Embedded    bool          `yaml:"embedded" json:"embedded"`
	Addr        string        `yaml:"addr" json:"addr"`
	Password    Secret        `yaml:"password" json:"password"`
	DB          int           `yaml:"db" json:"db"`
	PoolSize    int           `yaml:"pool_size" json:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// PostgresConfig contains settings for the remote session store
type PostgresConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	DSN      Secret `yaml:"dsn" json:"dsn"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
	// OwnerCacheSize bounds the in-process cache of known owners
	OwnerCacheSize int `yaml:"owner_cache_size" json:"owner_cache_size"`
	// Activity stores the audit trail in PostgreSQL instead of the log
	Activity bool `yaml:"activity" json:"activity"`
}

// SyncConfig contains remote synchronization settings
type SyncConfig struct {
	Delay         time.Duration `yaml:"delay" json:"delay"`
	RemoteTimeout time.Duration `yaml:"remote_timeout" json:"remote_timeout"`
	Rate          float64       `yaml:"rate" json:"rate"`
	Burst         int           `yaml:"burst" json:"burst"`
	Concurrency   int           `yaml:"concurrency" json:"concurrency"`
}
