package config

import "time"

// StorageConfig selects and parameterizes the columnar Backend (spec §6).
type StorageConfig struct {
	Kind     string // "local" or "s3"
	BasePath string
	S3       S3Config
}

// S3Config carries the object-store credentials/endpoint, used only when
// StorageConfig.Kind == "s3".
type S3Config struct {
	Bucket   string
	Endpoint string
	Region   string
	Key      string
	Secret   string
}

// WriterConfig holds the writer batch-size setting. writer.New does not take
// it; the writer flushes at its own writer.BatchSize constant.
type WriterConfig struct {
	BatchSize int
}

// CompactionConfig holds the compaction settings. cmd/compactor logs two of
// them at startup; compaction.New and NewLocker do not take them, and the
// engine uses its own package constants.
type CompactionConfig struct {
	MaxBlockBytes    int64
	MaxFilesPerBatch int
	LockLeaseSeconds int
}

// QueryConfig holds the async query TTL settings. asyncquery.New does not
// take them.
type QueryConfig struct {
	TTLPending   time.Duration
	TTLCompleted time.Duration
}

// SSEConfig holds the SSE timing settings. sse.New does not take them; the
// streamer uses its own poll, heartbeat and timeout constants.
type SSEConfig struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	MaxDuration       time.Duration
}

// FacetBatchConfig holds the facet-batch settings. The query executor does
// not read it; facets are cut to the package's own top-10 constant.
type FacetBatchConfig struct {
	MaxValuesPerFacet int
}

// CacheConfig selects and parameterizes the cache.Store backend.
type CacheConfig struct {
	Kind        string // "memory" or "redis"
	RedisAddr   string
	MemorySweep time.Duration
}

// BusConfig selects and parameterizes the message bus.
type BusConfig struct {
	Kind    string // "memory" or "kafka"
	Brokers []string
	GroupID string
}

// Config is the fully assembled application configuration, loaded once at
// process startup (spec §6's config table, generalized into typed structs
// per component). The cmd entrypoints use Storage, Cache and Bus to build
// backends; the other sections are not passed to any component constructor.
type Config struct {
	Storage    StorageConfig
	Writer     WriterConfig
	Compaction CompactionConfig
	Query      QueryConfig
	SSE        SSEConfig
	FacetBatch FacetBatchConfig
	Cache      CacheConfig
	Bus        BusConfig
}

// Load assembles Config from the environment, applying the defaults spec §6
// names, then layers an optional CONFIG_FILE YAML overlay on top (spec §6's
// config table is env-first; the overlay exists for settings teams prefer
// to check in rather than template into deployment env vars).
func Load() *Config {
	cfg := buildFromEnv()
	applyFileOverlay(cfg)

	return cfg
}

func buildFromEnv() *Config {
	return &Config{
		Storage: StorageConfig{
			Kind:     GetEnvStr("STORAGE_KIND", "local"),
			BasePath: GetEnvStr("STORAGE_BASE_PATH", "./data"),
			S3: S3Config{
				Bucket:   GetEnvStr("STORAGE_S3_BUCKET", ""),
				Endpoint: GetEnvStr("STORAGE_S3_ENDPOINT", ""),
				Region:   GetEnvStr("STORAGE_S3_REGION", ""),
				Key:      GetEnvStr("STORAGE_S3_KEY", ""),
				Secret:   GetEnvStr("STORAGE_S3_SECRET", ""),
			},
		},
		Writer: WriterConfig{
			BatchSize: GetEnvInt("WRITER_BATCH_SIZE", 1000),
		},
		Compaction: CompactionConfig{
			MaxBlockBytes:    GetEnvInt64("COMPACTION_MAX_BLOCK_BYTES", 50*1024*1024),
			MaxFilesPerBatch: GetEnvInt("COMPACTION_MAX_FILES_PER_BATCH", 100),
			LockLeaseSeconds: GetEnvInt("COMPACTION_LOCK_LEASE_SECONDS", 300),
		},
		Query: QueryConfig{
			TTLPending:   GetEnvDuration("QUERY_TTL_PENDING", time.Hour),
			TTLCompleted: GetEnvDuration("QUERY_TTL_COMPLETED", 5*time.Minute),
		},
		SSE: SSEConfig{
			PollInterval:      GetEnvDuration("SSE_POLL_INTERVAL", 500*time.Millisecond),
			HeartbeatInterval: GetEnvDuration("SSE_HEARTBEAT_INTERVAL", 15*time.Second),
			MaxDuration:       GetEnvDuration("SSE_MAX_DURATION", 120*time.Second),
		},
		FacetBatch: FacetBatchConfig{
			MaxValuesPerFacet: GetEnvInt("FACET_BATCH_MAX_VALUES_PER_FACET", 10),
		},
		Cache: CacheConfig{
			Kind:        GetEnvStr("CACHE_KIND", "memory"),
			RedisAddr:   GetEnvStr("CACHE_REDIS_ADDR", "localhost:6379"),
			MemorySweep: GetEnvDuration("CACHE_MEMORY_SWEEP_INTERVAL", 5*time.Minute),
		},
		Bus: BusConfig{
			Kind:    GetEnvStr("BUS_KIND", "memory"),
			Brokers: ParseCommaSeparatedList(GetEnvStr("BUS_KAFKA_BROKERS", "")),
			GroupID: GetEnvStr("BUS_KAFKA_GROUP_ID", "tracelake"),
		},
	}
}
