// Package config loads the YAML settings shared by the store and its tools.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelstore.ai/internal/java"
	"voxelstore.ai/internal/java/anvil"
	"voxelstore.ai/internal/persistence/offsite"
)

//go:embed schema.json
var schemaJSON string

type Config struct {
	Region     RegionConfig     `yaml:"region"`
	History    HistoryConfig    `yaml:"history"`
	Journal    JournalConfig    `yaml:"journal"`
	Index      IndexConfig      `yaml:"index"`
	Compaction CompactionConfig `yaml:"compaction"`
	Offsite    OffsiteConfig    `yaml:"offsite"`
	Log        LogConfig        `yaml:"log"`
}

type RegionConfig struct {
	SectorSize        int    `yaml:"sector_size"`
	Compression       string `yaml:"compression"`
	ExternalThreshold int    `yaml:"external_threshold"`
	Sidecar           bool   `yaml:"sidecar"`
}

type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
}

type JournalConfig struct {
	// Dir is relative to the level directory unless absolute. Empty disables the journal.
	Dir string `yaml:"dir"`
}

type IndexConfig struct {
	Path string `yaml:"path"`
}

type CompactionConfig struct {
	Workers   int    `yaml:"workers"`
	BackupDir string `yaml:"backup_dir"`
}

// OffsiteConfig names the bucket backups and exports are copied to.
// Credentials come from the environment, never from the file.
type OffsiteConfig struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Workers  int    `yaml:"workers"`
}

const (
	EnvOffsiteAccessKeyID     = "VOXELSTORE_OFFSITE_ACCESS_KEY_ID"
	EnvOffsiteSecretAccessKey = "VOXELSTORE_OFFSITE_SECRET_ACCESS_KEY"
)

type LogConfig struct {
	Prefix string `yaml:"prefix"`
}

func Defaults() Config {
	return Config{
		Region: RegionConfig{
			SectorSize:        anvil.DefaultSectorSize,
			Compression:       "zlib",
			ExternalThreshold: anvil.DefaultExternalThreshold,
			Sidecar:           true,
		},
		History:    HistoryConfig{Enabled: true},
		Journal:    JournalConfig{Dir: "journal"},
		Compaction: CompactionConfig{Workers: 2},
		Offsite:    OffsiteConfig{Workers: 2},
		Log:        LogConfig{Prefix: "[voxelstore] "},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return Parse(b)
}

// Parse decodes YAML config bytes over the defaults.
func Parse(b []byte) (Config, error) {
	cfg := Defaults()
	if err := validateSchema(b); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Region.Compression = strings.ToLower(strings.TrimSpace(c.Region.Compression))
	switch c.Region.Compression {
	case "":
		c.Region.Compression = "zlib"
	case "uncompressed":
		c.Region.Compression = "none"
	}
	if c.Region.SectorSize <= 0 {
		c.Region.SectorSize = anvil.DefaultSectorSize
	}
	if c.Region.ExternalThreshold <= 0 {
		c.Region.ExternalThreshold = anvil.DefaultExternalThreshold
	}
	if c.Compaction.Workers <= 0 {
		c.Compaction.Workers = 2
	}
	c.Offsite.Endpoint = strings.TrimSpace(c.Offsite.Endpoint)
	c.Offsite.Bucket = strings.TrimSpace(c.Offsite.Bucket)
	if c.Offsite.Workers <= 0 {
		c.Offsite.Workers = 2
	}
}

func (c Config) Validate() error {
	if s := c.Region.SectorSize; s&(s-1) != 0 {
		return fmt.Errorf("region.sector_size must be a power of two, got %d", s)
	}
	if _, err := anvil.ParseCompression(c.Region.Compression); err != nil {
		return fmt.Errorf("region.compression: %w", err)
	}
	if c.Region.ExternalThreshold < 1 {
		return fmt.Errorf("region.external_threshold must be > 0")
	}
	if c.Compaction.Workers > 64 {
		return fmt.Errorf("compaction.workers must be <= 64")
	}
	if (c.Offsite.Endpoint == "") != (c.Offsite.Bucket == "") {
		return fmt.Errorf("offsite.endpoint and offsite.bucket must be set together")
	}
	return nil
}

// OffsiteClientConfig reports whether offsite copies are configured and
// builds the client settings with credentials read through getenv.
func (c Config) OffsiteClientConfig(getenv func(string) string) (offsite.ClientConfig, bool) {
	if c.Offsite.Endpoint == "" || c.Offsite.Bucket == "" {
		return offsite.ClientConfig{}, false
	}
	return offsite.ClientConfig{
		Endpoint:        c.Offsite.Endpoint,
		Bucket:          c.Offsite.Bucket,
		Region:          c.Offsite.Region,
		AccessKeyID:     getenv(EnvOffsiteAccessKeyID),
		SecretAccessKey: getenv(EnvOffsiteSecretAccessKey),
	}, true
}

// RegionOptions converts the region settings to anvil options.
func (c Config) RegionOptions() (anvil.Options, error) {
	comp, err := anvil.ParseCompression(c.Region.Compression)
	if err != nil {
		return anvil.Options{}, err
	}
	return anvil.Options{
		SectorSize:        c.Region.SectorSize,
		Compression:       comp,
		ExternalThreshold: c.Region.ExternalThreshold,
		DisableSidecar:    !c.Region.Sidecar,
	}, nil
}

// LevelOptions builds the options for loading a level.
func (c Config) LevelOptions(logger *log.Logger) (java.Options, error) {
	ro, err := c.RegionOptions()
	if err != nil {
		return java.Options{}, err
	}
	ro.Logger = logger
	return java.Options{Region: ro, Logger: logger, CompactWorkers: c.Compaction.Workers}, nil
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// validateSchema checks the raw YAML document against the embedded schema.
func validateSchema(b []byte) error {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("config.schema.json", schemaJSON)
	})
	if schemaErr != nil {
		return schemaErr
	}
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// The validator expects values shaped like encoding/json output.
	jb, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return schema.Validate(v)
}
