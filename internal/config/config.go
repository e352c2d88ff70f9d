// Package config loads skinscan settings from a YAML file, an optional
// .env file and SKINSCAN_* environment variables, in increasing order of
// precedence, and validates the result against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/skinscan/internal/scan"
)

//go:embed schema.cue
var schemaCUE string

// Defaults applied to zero-valued fields.
const (
	DefaultListen         = ":8000"
	DefaultTimezone       = "UTC"
	DefaultMaxUploadBytes = 10 << 20
	DefaultStorePath      = "skinscan.db"
	DefaultMongoDatabase  = "skinscan"
	DefaultKafkaTopic     = "skinscan.scans"
	DefaultClassifierTime = 30 * time.Second
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Classifier modes.
const (
	ClassifierLocal = "local"
	ClassifierHTTP  = "http"
)

// Config is the full service configuration.
type Config struct {
	Listen         string   `yaml:"listen" json:"listen"`
	Workers        int      `yaml:"workers" json:"workers"`
	Labels         []string `yaml:"labels" json:"labels"`
	Timezone       string   `yaml:"timezone" json:"timezone"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes" json:"max_upload_bytes"`

	Store      StoreConfig      `yaml:"store" json:"store"`
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`
	Kafka      KafkaConfig      `yaml:"kafka" json:"kafka"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// StoreConfig selects and addresses the record store.
type StoreConfig struct {
	Driver        string `yaml:"driver" json:"driver"`
	Path          string `yaml:"path" json:"path"`
	MongoURI      string `yaml:"mongo_uri" json:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database" json:"mongo_database"`
}

// ClassifierConfig selects the model backend.
type ClassifierConfig struct {
	Mode    string        `yaml:"mode" json:"mode"`
	URL     string        `yaml:"url" json:"url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Delay is the simulated latency of the local classifier.
	Delay time.Duration `yaml:"delay" json:"delay"`
}

// KafkaConfig enables scan-recorded events when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path (optional, "" skips it), then envFiles (default ".env"
// when present), then the process environment, applies defaults and
// validates.
func Load(path string, envFiles ...string) (*Config, error) {
	c := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	dotenv, err := readEnvFiles(envFiles)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(envLookup(dotenv)); err != nil {
		return nil, err
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if len(c.Labels) == 0 {
		c.Labels = append([]string(nil), scan.DefaultLabels...)
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}

	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Driver == DriverSQLite && c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Store.MongoDatabase == "" {
		c.Store.MongoDatabase = DefaultMongoDatabase
	}

	if c.Classifier.Mode == "" {
		c.Classifier.Mode = ClassifierLocal
	}
	if c.Classifier.Timeout == 0 {
		c.Classifier.Timeout = DefaultClassifierTime
	}

	// CUE encodes a nil slice as null, which the list schema rejects.
	if c.Kafka.Brokers == nil {
		c.Kafka.Brokers = []string{}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks c against the embedded schema and the cross-field rules
// the schema does not express.
func (c *Config) Validate() error {
	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	val := cctx.Encode(c)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, err := c.LabelSet(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch {
	case c.Store.Driver == DriverSQLite && c.Store.Path == "":
		return errors.New("invalid config: store.path is required for the sqlite driver")
	case c.Store.Driver == DriverMongo && c.Store.MongoURI == "":
		return errors.New("invalid config: store.mongo_uri is required for the mongo driver")
	case c.Classifier.Mode == ClassifierHTTP && c.Classifier.URL == "":
		return errors.New("invalid config: classifier.url is required in http mode")
	}
	return nil
}

// LabelSet builds the configured label vocabulary.
func (c *Config) LabelSet() (*scan.LabelSet, error) {
	return scan.NewLabelSet(c.Labels...)
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SlogLevel maps Log.Level to a slog level. Unknown values map to Info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// KafkaEnabled reports whether scan-recorded events should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

func readEnvFiles(files []string) (map[string]string, error) {
	explicit := len(files) > 0
	if !explicit {
		files = []string{".env"}
	}

	out := make(map[string]string)
	for _, f := range files {
		vals, err := godotenv.Read(f)
		if err != nil {
			if !explicit && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read env file %s: %w", f, err)
		}
		for k, v := range vals {
			out[k] = v
		}
	}
	return out, nil
}

// envLookup consults the process environment first, then dotenv.
func envLookup(dotenv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	list := func(dst *[]string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	str(&c.Listen, "SKINSCAN_LISTEN")
	str(&c.Timezone, "SKINSCAN_TIMEZONE")
	list(&c.Labels, "SKINSCAN_LABELS")
	str(&c.Store.Driver, "SKINSCAN_STORE_DRIVER")
	str(&c.Store.Path, "SKINSCAN_STORE_PATH")
	str(&c.Store.MongoURI, "SKINSCAN_MONGO_URI", "MONGO_URI")
	str(&c.Store.MongoDatabase, "SKINSCAN_MONGO_DATABASE")
	str(&c.Classifier.Mode, "SKINSCAN_CLASSIFIER_MODE")
	str(&c.Classifier.URL, "SKINSCAN_CLASSIFIER_URL")
	list(&c.Kafka.Brokers, "SKINSCAN_KAFKA_BROKERS")
	str(&c.Kafka.Topic, "SKINSCAN_KAFKA_TOPIC")
	str(&c.Log.Level, "SKINSCAN_LOG_LEVEL")
	str(&c.Log.Format, "SKINSCAN_LOG_FORMAT")

	if v, ok := lookup("SKINSCAN_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SKINSCAN_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v, ok := lookup("SKINSCAN_MAX_UPLOAD_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("SKINSCAN_MAX_UPLOAD_BYTES: %w", err)
		}
		c.MaxUploadBytes = n
	}
	if v, ok := lookup("SKINSCAN_CLASSIFIER_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SKINSCAN_CLASSIFIER_TIMEOUT: %w", err)
		}
		c.Classifier.Timeout = d
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
