package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// validLogLevels lists the recognised values for server.log_level.
var validLogLevels = []string{"debug", "info", "warn", "error"}

// validTransports lists the recognised values for an MCP server's transport.
var validTransports = []string{"stdio", "streamable-http"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !slices.Contains(validLogLevels, cfg.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: %v", cfg.Server.LogLevel, validLogLevels))
	}

	if cfg.Decoder.DictionaryPath == "" {
		errs = append(errs, errors.New("decoder.dictionary_path is required"))
	}
	if cfg.Decoder.LanguageModelPath == "" {
		errs = append(errs, errors.New("decoder.language_model_path is required"))
	}
	if cfg.Decoder.AcousticModelDir == "" {
		errs = append(errs, errors.New("decoder.acoustic_model_dir is required"))
	}

	t := cfg.Decoder.Tunables
	if t.Beam < 0 {
		errs = append(errs, fmt.Errorf("decoder.tunables.beam %.4f must be non-negative (it is negated internally)", t.Beam))
	}
	if t.MaxWordsPerFrame < -1 {
		errs = append(errs, fmt.Errorf("decoder.tunables.max_words_per_frame %d must be -1 or non-negative", t.MaxWordsPerFrame))
	}
	if t.MaxHMMsPerFrame < -1 {
		errs = append(errs, fmt.Errorf("decoder.tunables.max_hmms_per_frame %d must be -1 or non-negative", t.MaxHMMsPerFrame))
	}

	if cfg.Lattice.PostgresDSN == "" {
		slog.Warn("lattice.postgres_dsn is empty; decoded lattices will not be archived")
	}
	if cfg.Lattice.PostgresDSN != "" && cfg.Lattice.EmbeddingDimensions <= 0 {
		slog.Warn("lattice.postgres_dsn is configured but lattice.embedding_dimensions is not set; defaulting to 0 (no embedding column)")
	}

	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !slices.Contains(validTransports, srv.Transport) {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: %v", prefix, srv.Transport, validTransports))
		}
		if srv.Transport == "stdio" && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == "streamable-http" && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	if cfg.MCP.ExposeTransport != "" && !slices.Contains(validTransports, cfg.MCP.ExposeTransport) {
		errs = append(errs, fmt.Errorf("mcp.expose_transport %q is invalid; valid values: %v", cfg.MCP.ExposeTransport, validTransports))
	}
	if cfg.MCP.ExposeTransport == "streamable-http" && cfg.MCP.ExposeAddr == "" {
		errs = append(errs, errors.New("mcp.expose_addr is required when expose_transport is streamable-http"))
	}

	return errors.Join(errs...)
}

// Defaults returns the built-in tunable defaults (§6), expressed as the
// positive beam magnitudes used in YAML; callers negate beams when building
// [decoder.Tunables].
func Defaults() TunablesConfig {
	return TunablesConfig{
		Beam:                 160.0,
		PBeam:                140.0,
		LPBeam:               140.0,
		LPOnlyBeam:           190.0,
		WBeam:                160.0,
		WordInsertionPenalty: 0.0,
		SilenceWordPenalty:   0.0,
		FillerWordPenalty:    0.0,
		MaxWordsPerFrame:     -1,
		MaxHMMsPerFrame:      30000,
	}
}
