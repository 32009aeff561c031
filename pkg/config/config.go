// Package config loads service configuration from defaults, an optional
// YAML file, an optional .env file, and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	LogLevel    string           `yaml:"log_level"`
	Mail        MailConfig       `yaml:"mail"`
	Classifier  ClassifierConfig `yaml:"classifier"`
	Embedding   EmbeddingConfig  `yaml:"embedding"`
	Dedup       DedupConfig      `yaml:"dedup"`
	Ingest      IngestConfig     `yaml:"ingest"`
	Store       StoreConfig      `yaml:"store"`
	Index       IndexConfig      `yaml:"index"`
	Events      EventsConfig     `yaml:"events"`
	HTTP        HTTPConfig       `yaml:"http"`
	MetricsPort int              `yaml:"metrics_port"`
}

// MailConfig selects the mailbox and how messages are consumed.
type MailConfig struct {
	// Provider is "gmail" or "memory".
	Provider        string `yaml:"provider"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	User            string `yaml:"user"`
	Query           string `yaml:"query"`
	BatchSize       int    `yaml:"batch_size"`
	// Policy is "on_fetch" or "after_process".
	Policy string `yaml:"policy"`
}

// ClassifierConfig selects the LLM backend.
type ClassifierConfig struct {
	// Provider is "openrouter" or "anthropic".
	Provider         string        `yaml:"provider"`
	URL              string        `yaml:"url"`
	APIKey           string        `yaml:"api_key"`
	Model            string        `yaml:"model"`
	RatePerSec       float64       `yaml:"rate_per_sec"`
	Burst            int           `yaml:"burst"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	// Provider is "ollama" or "openai".
	Provider string `yaml:"provider"`
	URL      string `yaml:"url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Dims     int    `yaml:"dims"`
}

// DedupConfig tunes duplicate detection.
type DedupConfig struct {
	Threshold     float64       `yaml:"threshold"`
	Window        time.Duration `yaml:"window"`
	K             int           `yaml:"k"`
	NumCandidates int           `yaml:"num_candidates"`
}

// IngestConfig tunes the polling cycle.
type IngestConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxCycle      time.Duration `yaml:"max_cycle"`
	Workers       int           `yaml:"workers"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// StoreConfig selects the ticket store.
type StoreConfig struct {
	// Backend is "neo4j" or "memory".
	Backend  string `yaml:"backend"`
	Neo4jURL string `yaml:"neo4j_url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// IndexConfig selects the vector index.
type IndexConfig struct {
	// Backend is "qdrant" or "memory".
	Backend    string `yaml:"backend"`
	QdrantAddr string `yaml:"qdrant_addr"`
	Collection string `yaml:"collection"`
}

// EventsConfig selects where outcomes are published.
type EventsConfig struct {
	// Backend is "none", "nats", or "kafka".
	Backend      string   `yaml:"backend"`
	NATSURL      string   `yaml:"nats_url"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	OutcomeTopic string   `yaml:"outcome_topic"`
	DLQTopic     string   `yaml:"dlq_topic"`
	// ConsumeInbound also accepts messages pushed on the NATS inbound
	// subject.
	ConsumeInbound bool `yaml:"consume_inbound"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Mail: MailConfig{
			Provider:        "gmail",
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
			User:            "me",
			Query:           "in:inbox is:unread category:primary",
			BatchSize:       10,
			Policy:          "on_fetch",
		},
		Classifier: ClassifierConfig{
			Provider:         "openrouter",
			URL:              "https://openrouter.ai/api/v1/chat/completions",
			Model:            "meta-llama/llama-3.3-70b-instruct:free",
			RatePerSec:       1,
			Burst:            2,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			URL:      "http://localhost:11434",
			Model:    "all-minilm",
			Dims:     384,
		},
		Dedup: DedupConfig{
			Threshold:     0.95,
			Window:        24 * time.Hour,
			K:             5,
			NumCandidates: 100,
		},
		Ingest: IngestConfig{
			PollInterval:  time.Minute,
			MaxCycle:      50 * time.Second,
			Workers:       4,
			CallTimeout:   20 * time.Second,
			RetryAttempts: 3,
			RetryBackoff:  500 * time.Millisecond,
		},
		Store: StoreConfig{
			Backend:  "neo4j",
			Neo4jURL: "neo4j://localhost:7687",
			User:     "neo4j",
			Password: "password",
		},
		Index: IndexConfig{
			Backend:    "qdrant",
			QdrantAddr: "localhost:6334",
			Collection: "tickets",
		},
		Events: EventsConfig{
			Backend:      "none",
			NATSURL:      "nats://localhost:4222",
			KafkaBrokers: []string{"localhost:9092"},
			OutcomeTopic: "helpdesk-ingest-outcomes",
			DLQTopic:     "helpdesk-ingest-dlq",
		},
		HTTP:        HTTPConfig{Port: "8080", CORSOrigin: "*"},
		MetricsPort: 9090,
	}
}

// Load builds the configuration. path names a YAML file; when empty,
// ./config.yaml is used if present. A .env file in the working directory
// is loaded into the environment without overriding variables already set.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (r *envReader) strs(key string, dst *[]string) {
	if v, ok := r.lookup(key); ok && v != "" {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	}
}

func (r *envReader) integer(key string, dst *int) {
	if v, ok := r.lookup(key); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (r *envReader) number(key string, dst *float64) {
	if v, ok := r.lookup(key); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (r *envReader) dur(key string, dst *time.Duration) {
	if v, ok := r.lookup(key); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

func (r *envReader) flag(key string, dst *bool) {
	if v, ok := r.lookup(key); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (c *Config) applyEnv(lookup lookupFunc) error {
	r := &envReader{lookup: lookup}

	r.str("LOG_LEVEL", &c.LogLevel)

	r.str("MAIL_PROVIDER", &c.Mail.Provider)
	r.str("GMAIL_CREDENTIALS", &c.Mail.CredentialsFile)
	r.str("GMAIL_TOKEN", &c.Mail.TokenFile)
	r.str("GMAIL_USER", &c.Mail.User)
	r.str("MAIL_QUERY", &c.Mail.Query)
	r.integer("MAIL_BATCH_SIZE", &c.Mail.BatchSize)
	r.str("MAIL_POLICY", &c.Mail.Policy)

	r.str("CLASSIFIER_PROVIDER", &c.Classifier.Provider)
	r.str("CLASSIFIER_URL", &c.Classifier.URL)
	r.str("CLASSIFIER_MODEL", &c.Classifier.Model)
	if c.Classifier.Provider == "anthropic" {
		r.str("ANTHROPIC_API_KEY", &c.Classifier.APIKey)
	} else {
		r.str("OPENROUTER_API_KEY", &c.Classifier.APIKey)
	}
	r.number("CLASSIFIER_RATE", &c.Classifier.RatePerSec)

	r.str("EMBED_PROVIDER", &c.Embedding.Provider)
	r.str("EMBED_URL", &c.Embedding.URL)
	r.str("OLLAMA_URL", &c.Embedding.URL)
	r.str("OPENAI_API_KEY", &c.Embedding.APIKey)
	r.str("EMBED_MODEL", &c.Embedding.Model)
	r.integer("EMBED_DIMS", &c.Embedding.Dims)

	r.number("DEDUP_THRESHOLD", &c.Dedup.Threshold)
	r.dur("DEDUP_WINDOW", &c.Dedup.Window)
	r.integer("DEDUP_K", &c.Dedup.K)

	r.dur("POLL_INTERVAL", &c.Ingest.PollInterval)
	r.dur("MAX_CYCLE", &c.Ingest.MaxCycle)
	r.integer("WORKERS", &c.Ingest.Workers)
	r.dur("CALL_TIMEOUT", &c.Ingest.CallTimeout)
	r.integer("RETRY_ATTEMPTS", &c.Ingest.RetryAttempts)

	r.str("STORE_BACKEND", &c.Store.Backend)
	r.str("NEO4J_URL", &c.Store.Neo4jURL)
	r.str("NEO4J_USER", &c.Store.User)
	r.str("NEO4J_PASS", &c.Store.Password)
	r.str("NEO4J_DATABASE", &c.Store.Database)

	r.str("INDEX_BACKEND", &c.Index.Backend)
	r.str("QDRANT_URL", &c.Index.QdrantAddr)
	r.str("QDRANT_COLLECTION", &c.Index.Collection)

	r.str("EVENTS_BACKEND", &c.Events.Backend)
	r.str("NATS_URL", &c.Events.NATSURL)
	r.strs("KAFKA_BROKERS", &c.Events.KafkaBrokers)
	r.flag("CONSUME_INBOUND", &c.Events.ConsumeInbound)

	r.str("PORT", &c.HTTP.Port)
	r.str("CORS_ORIGIN", &c.HTTP.CORSOrigin)
	r.integer("METRICS_PORT", &c.MetricsPort)

	if len(r.errs) > 0 {
		return fmt.Errorf("config: environment: %w", errors.Join(r.errs...))
	}
	return nil
}

func oneOf(field, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s %q: must be one of %s", field, v, strings.Join(allowed, ", "))
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	add(oneOf("mail.provider", c.Mail.Provider, "gmail", "memory"))
	add(oneOf("mail.policy", c.Mail.Policy, "on_fetch", "after_process"))
	check(c.Mail.BatchSize >= 1 && c.Mail.BatchSize <= 10, "mail.batch_size %d: must be in [1, 10]", c.Mail.BatchSize)

	add(oneOf("classifier.provider", c.Classifier.Provider, "openrouter", "anthropic"))
	add(oneOf("embedding.provider", c.Embedding.Provider, "ollama", "openai"))
	check(c.Embedding.Dims > 0, "embedding.dims %d: must be positive", c.Embedding.Dims)

	check(c.Dedup.Threshold > 0 && c.Dedup.Threshold <= 1, "dedup.threshold %v: must be in (0, 1]", c.Dedup.Threshold)
	check(c.Dedup.Window > 0, "dedup.window %v: must be positive", c.Dedup.Window)
	check(c.Dedup.K >= 1, "dedup.k %d: must be at least 1", c.Dedup.K)

	check(c.Ingest.PollInterval > 0, "ingest.poll_interval %v: must be positive", c.Ingest.PollInterval)
	check(c.Ingest.MaxCycle > 0 && c.Ingest.MaxCycle <= c.Ingest.PollInterval,
		"ingest.max_cycle %v: must be positive and at most poll_interval %v", c.Ingest.MaxCycle, c.Ingest.PollInterval)
	check(c.Ingest.Workers >= 1, "ingest.workers %d: must be at least 1", c.Ingest.Workers)
	check(c.Ingest.CallTimeout > 0, "ingest.call_timeout %v: must be positive", c.Ingest.CallTimeout)

	add(oneOf("store.backend", c.Store.Backend, "neo4j", "memory"))
	add(oneOf("index.backend", c.Index.Backend, "qdrant", "memory"))
	add(oneOf("events.backend", c.Events.Backend, "none", "nats", "kafka"))
	check(!c.Events.ConsumeInbound || c.Events.Backend == "nats", "events.consume_inbound requires the nats backend")

	_, err := parseLevel(c.LogLevel)
	add(err)

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger returns the JSON logger every binary uses.
func (c Config) NewLogger() *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
