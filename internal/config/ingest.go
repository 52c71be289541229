package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// IngestConfig describes one ingestion run. Values come from the
// environment; keys present in File override them.
type IngestConfig struct {
	File string `env:"TUSKMEM_INGEST_CONFIG" yaml:"-"`

	// Files are glob patterns relative to BaseDir ("**" crosses directories).
	Files   []string `env:"TUSKMEM_INGEST_FILES" envSeparator:"," yaml:"files"`
	URLs    []string `env:"TUSKMEM_INGEST_URLS" envSeparator:"," yaml:"urls"`
	BaseDir string   `env:"TUSKMEM_INGEST_BASE_DIR" yaml:"base_dir"`

	ChunkStrategy string `env:"TUSKMEM_CHUNK_STRATEGY" envDefault:"paragraph" yaml:"chunk_strategy"`
	ChunkSize     int    `env:"TUSKMEM_CHUNK_SIZE" envDefault:"1200" yaml:"chunk_size"`
	ChunkOverlap  int    `env:"TUSKMEM_CHUNK_OVERLAP" envDefault:"150" yaml:"chunk_overlap"`

	MaxFileBytes  int64 `env:"TUSKMEM_INGEST_MAX_FILE_BYTES" envDefault:"10485760" yaml:"max_file_bytes"`
	MaxTotalBytes int64 `env:"TUSKMEM_INGEST_MAX_TOTAL_BYTES" envDefault:"104857600" yaml:"max_total_bytes"`

	FetchTimeout time.Duration `env:"TUSKMEM_FETCH_TIMEOUT" envDefault:"30s" yaml:"fetch_timeout"`
	HostDelay    time.Duration `env:"TUSKMEM_FETCH_HOST_DELAY" envDefault:"1s" yaml:"host_delay"`

	Concurrency int `env:"TUSKMEM_INGEST_CONCURRENCY" envDefault:"4" yaml:"concurrency"`
}

func LoadIngestConfig() (*IngestConfig, error) {
	c := &IngestConfig{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse ingest config: %w", err)
	}
	if c.File != "" {
		if err := c.LoadFile(c.File); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadFile overlays the YAML document at path onto c.
func (c *IngestConfig) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read ingest config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("decode ingest config %s: %w", path, err)
	}
	c.File = path
	return nil
}
