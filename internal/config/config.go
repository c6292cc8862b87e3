package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"rgbd-stream-go/internal/packet"
)

type AppConfig struct {
	Port           int           `yaml:"port"`
	Width          uint32        `yaml:"width"`
	Height         uint32        `yaml:"height"`
	FieldOfView    float32       `yaml:"field_of_view"`
	TickRate       float64       `yaml:"tick_rate"`
	Objects        int           `yaml:"objects"`
	Seed           int64         `yaml:"seed"`
	ZMQEndpoint    string        `yaml:"zmq_endpoint"`
	PreviewEvery   int           `yaml:"preview_every"`
	RawLogEnabled  bool          `yaml:"raw_log"`
	RawLogDir      string        `yaml:"raw_log_dir"`
	OutputDir      string        `yaml:"output_dir"`
	AnnotateEvery  int           `yaml:"annotate_every"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
	LogLevel       string        `yaml:"log_level"`
	LogEncoding    string        `yaml:"log_encoding"`
	IngestLogEvery int           `yaml:"ingest_log_every"`
}

func Default() AppConfig {
	return AppConfig{
		Port:           8888,
		Width:          640,
		Height:         480,
		FieldOfView:    90,
		TickRate:       30,
		Objects:        6,
		Seed:           1,
		PreviewEvery:   30,
		RawLogDir:      "rawlog",
		OutputDir:      "output",
		StatsInterval:  30 * time.Second,
		LogLevel:       "info",
		LogEncoding:    "json",
		IngestLogEvery: 100,
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c AppConfig) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := packet.NewLayout(c.Width, c.Height, c.FieldOfView); err != nil {
		errs = append(errs, fmt.Errorf("image size: %w", err))
	}
	if c.FieldOfView <= 0 || c.FieldOfView >= 180 {
		errs = append(errs, fmt.Errorf("field of view %v must be in (0, 180)", c.FieldOfView))
	}
	if c.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("tick rate %v must be positive", c.TickRate))
	}
	if c.Objects < 0 {
		errs = append(errs, fmt.Errorf("object count %d must not be negative", c.Objects))
	}
	if c.AnnotateEvery < 0 || c.PreviewEvery < 0 {
		errs = append(errs, fmt.Errorf("annotate_every and preview_every must not be negative"))
	}
	return errors.Join(errs...)
}
