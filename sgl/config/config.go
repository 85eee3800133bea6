// Package config loads the YAML settings shared by the sgl packages and
// turns the logging section into a configured logrus logger.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/TheusHen/sgl/sgl/physmem"
	"github.com/TheusHen/sgl/sgl/protocol"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var ErrEmptyConfig = errors.New("config: empty configuration")

// Config is the root of a configuration file.
type Config struct {
	PageSize         int      `yaml:"page_size"`
	Table            Table    `yaml:"table"`
	Memory           Memory   `yaml:"memory"`
	Translator       string   `yaml:"translator"`
	TranslatorOffset uint64   `yaml:"translator_offset"`
	Logging          Logging  `yaml:"logging"`
	Transfer         Transfer `yaml:"transfer"`
}

type Table struct {
	Capacity int `yaml:"capacity"`
}

// Memory describes the simulated RAM chains are built over.
type Memory struct {
	Base uint64 `yaml:"base"`
	Size int    `yaml:"size"`
}

type Logging struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	DisableTimestamp bool   `yaml:"disable_timestamp"`
	TimestampFormat  string `yaml:"timestamp_format"`
}

// Transfer holds the settings of the chain transfer layer.
type Transfer struct {
	ChunkSize       int    `yaml:"chunk_size"`
	Compression     string `yaml:"compression"`
	ErasureData     int    `yaml:"erasure_data"`
	ErasureParity   int    `yaml:"erasure_parity"`
	ParallelStreams int    `yaml:"parallel_streams"`
	ParallelWorkers int    `yaml:"parallel_workers"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		PageSize:   physmem.DefaultPageSize,
		Table:      Table{Capacity: 4096},
		Memory:     Memory{Base: 0x10000000, Size: 16 << 20},
		Translator: "xor",
		Logging:    Logging{Level: "info", Format: "text"},
		Transfer: Transfer{
			ChunkSize:       256 * 1024,
			Compression:     "fast",
			ParallelStreams: 8,
			ParallelWorkers: 4,
		},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	c, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes raw YAML on top of the defaults and validates the result.
func Parse(raw []byte) (Config, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Config{}, ErrEmptyConfig
	}
	c := Default()
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks values that would otherwise only fail deep inside a
// component.
func (c Config) Validate() error {
	if err := physmem.CheckPageSize(c.PageSize); err != nil {
		return fmt.Errorf("page_size: %w", err)
	}
	if c.Table.Capacity <= 0 {
		return fmt.Errorf("table.capacity must be positive, got %d", c.Table.Capacity)
	}
	if c.Memory.Base == 0 || c.Memory.Base%uint64(c.PageSize) != 0 {
		return fmt.Errorf("memory.base 0x%x must be a non-zero multiple of page_size", c.Memory.Base)
	}
	if c.Memory.Size <= 0 || c.Memory.Size%c.PageSize != 0 {
		return fmt.Errorf("memory.size %d must be a positive multiple of page_size", c.Memory.Size)
	}
	if _, err := physmem.NewTranslator(c.Translator, c.PageSize, c.TranslatorOffset); err != nil {
		return fmt.Errorf("translator: %w", err)
	}
	if c.Transfer.ChunkSize < 0 || c.Transfer.ChunkSize > protocol.MaxChunkSize {
		return fmt.Errorf("transfer.chunk_size %d must be between 0 and %d", c.Transfer.ChunkSize, protocol.MaxChunkSize)
	}
	switch strings.ToLower(c.Transfer.Compression) {
	case "", "fast", "default", "best":
	default:
		return fmt.Errorf("transfer.compression: unknown level %q", c.Transfer.Compression)
	}
	if (c.Transfer.ErasureData > 0) != (c.Transfer.ErasureParity > 0) {
		return fmt.Errorf("transfer.erasure_data and transfer.erasure_parity must be set together")
	}
	return nil
}

// NewTranslator returns the configured address translator.
func (c Config) NewTranslator() (physmem.Translator, error) {
	return physmem.NewTranslator(c.Translator, c.PageSize, c.TranslatorOffset)
}

// NewLogger returns a logger configured from the logging section.
func (c Config) NewLogger() (*logrus.Logger, error) {
	l := logrus.New()
	if err := c.Logging.Apply(l); err != nil {
		return nil, err
	}
	return l, nil
}

// Apply sets level and formatter of l.
func (lc Logging) Apply(l *logrus.Logger) error {
	level := lc.Level
	if level == "" {
		level = "info"
	}
	logLevel, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("%s; possible levels: %s", err, logrus.AllLevels)
	}
	l.SetLevel(logLevel)

	timestampFormat := lc.TimestampFormat
	fullTimestamp := timestampFormat != ""
	if timestampFormat == "" {
		timestampFormat = time.RFC3339
	}

	switch strings.ToLower(lc.Format) {
	case "", "text":
		l.Formatter = &logrus.TextFormatter{
			TimestampFormat:  timestampFormat,
			FullTimestamp:    fullTimestamp,
			DisableTimestamp: lc.DisableTimestamp,
		}
	case "json":
		l.Formatter = &logrus.JSONFormatter{
			TimestampFormat:  timestampFormat,
			DisableTimestamp: lc.DisableTimestamp,
		}
	default:
		return fmt.Errorf("unknown log format `%s`. possible formats: %s", lc.Format, []string{"text", "json"})
	}

	return nil
}
