// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the tokenizer configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/corpustok/pkg/logging"
	"github.com/AleutianAI/corpustok/pkg/validation"
	"github.com/AleutianAI/corpustok/services/tokenizer"
	"github.com/AleutianAI/corpustok/services/tokenizer/archive"
	"github.com/AleutianAI/corpustok/services/tokenizer/ast"
	"github.com/AleutianAI/corpustok/services/tokenizer/ids"
)

// Config is the whole configuration file.
type Config struct {
	Language   LanguageConfig  `yaml:"language"`
	Run        RunConfig       `yaml:"run"`
	Paths      PathsConfig     `yaml:"paths"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	StatusAddr string          `yaml:"status_addr" validate:"omitempty,hostname_port"`
	Publish    PublishConfig   `yaml:"publish"`
	Log        LogConfig       `yaml:"log"`
}

type LanguageConfig struct {
	// Name selects the block extractor; empty infers it from Extensions.
	Name              string   `yaml:"name" validate:"omitempty,oneof=java c cpp c_sharp go python file"`
	Separators        []string `yaml:"separators" validate:"required,min=1"`
	CommentInline     string   `yaml:"comment_inline"`
	CommentBlockOpen  string   `yaml:"comment_block_open" validate:"required_with=CommentBlockClose"`
	CommentBlockClose string   `yaml:"comment_block_close" validate:"required_with=CommentBlockOpen"`
	Extensions        []string `yaml:"extensions" validate:"required,min=1,dive,extension"`
	MaxFileBytes      int64    `yaml:"max_file_bytes" validate:"gte=0"`
	MaxDepth          int      `yaml:"max_depth" validate:"gte=0"`
}

type RunConfig struct {
	Processes     int           `yaml:"processes" validate:"gte=1"`
	ProjectsBatch int           `yaml:"projects_batch" validate:"gte=1"`
	InitFileID    int64         `yaml:"init_file_id" validate:"gte=0,ltfield=IDMultiplier"`
	InitProjID    int64         `yaml:"init_proj_id" validate:"gte=0"`
	ProjIDPrefix  int64         `yaml:"proj_id_prefix" validate:"gte=0"`
	IDMultiplier  int64         `yaml:"id_multiplier" validate:"gte=1"`
	Mode          string        `yaml:"mode" validate:"oneof=block file"`
	Format        string        `yaml:"format" validate:"oneof=auto zip tar dir"`
	BatchTimeout  time.Duration `yaml:"batch_timeout" validate:"gte=0"`
	StallWarning  time.Duration `yaml:"stall_warning" validate:"gte=0"`
}

type PathsConfig struct {
	ProjectListFile         string `yaml:"project_list_file" validate:"required"`
	PriorityProjectListFile string `yaml:"priority_project_list_file"`
	StatsDir                string `yaml:"stats_dir" validate:"required"`
	BookkeepingDir          string `yaml:"bookkeeping_dir" validate:"required"`
	TokensDir               string `yaml:"tokens_dir" validate:"required"`
	LogsDir                 string `yaml:"logs_dir"`
	LedgerDir               string `yaml:"ledger_dir"`

	// DownloadDir receives gs:// archives while they are processed.
	// Empty uses the system temp directory.
	DownloadDir string `yaml:"download_dir"`
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
}

type PublishConfig struct {
	GCSBucket       string `yaml:"gcs_bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`

	// JSON forces JSON (true) or text (false). Unset picks text on a
	// terminal and JSON otherwise.
	JSON *bool `yaml:"json"`
}

// Default returns the configuration used for every key the file omits.
func Default() Config {
	return Config{
		Language: LanguageConfig{
			MaxFileBytes: archive.DefaultMaxFileBytes,
		},
		Run: RunConfig{
			Processes:     2,
			ProjectsBatch: 20,
			InitFileID:    0,
			InitProjID:    1,
			IDMultiplier:  ids.DefaultMultiplier,
			Mode:          string(tokenizer.ModeBlock),
			Format:        string(tokenizer.FormatAuto),
			StallWarning:  5 * time.Minute,
		},
		Paths: PathsConfig{
			ProjectListFile: "projects-list.txt",
			StatsDir:        "files_stats",
			BookkeepingDir:  "bookkeeping_projs",
			TokensDir:       "files_tokens",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   "localhost:4317",
		},
		Log: LogConfig{Level: "info"},
	}
}

// configValidate is the validator instance for Config.
// Initialized in init() with custom validators.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("extension", func(fl validator.FieldLevel) bool {
		return validation.ValidateExtension(fl.Field().String()) == nil
	})
}

// Load reads path, applies it over Default and validates the result.
//
// Every failure is a KindStartup *tokenizer.Error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, tokenizer.NewError(tokenizer.KindStartup, "read config", path, err)
	}
	return Parse(data, path)
}

// Parse decodes YAML data over Default and validates the result. name is
// only used in errors.
func Parse(data []byte, name string) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, tokenizer.NewError(tokenizer.KindStartup, "parse config", name, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, tokenizer.NewError(tokenizer.KindStartup, "validate config", name, err)
	}
	return &cfg, nil
}

// Validate checks the struct tags plus the rules tags cannot express.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if c.LanguageName() == "" {
		return fmt.Errorf("language.name is empty and cannot be inferred from extensions %v", c.Language.Extensions)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// LanguageName returns the configured or inferred extractor language.
// File mode runs no extractor and reports the whole-file name.
func (c *Config) LanguageName() string {
	if c.Mode() == tokenizer.ModeFile {
		return ast.LangFile
	}
	if c.Language.Name != "" {
		return c.Language.Name
	}
	return ast.InferLanguage(c.Language.Extensions)
}

// Mode returns run.mode as a tokenizer.Mode.
func (c *Config) Mode() tokenizer.Mode {
	m, err := tokenizer.ParseMode(c.Run.Mode)
	if err != nil {
		return tokenizer.ModeBlock
	}
	return m
}

// Format returns run.format as a tokenizer.Format.
func (c *Config) Format() tokenizer.Format {
	f, err := tokenizer.ParseFormat(c.Run.Format)
	if err != nil {
		return tokenizer.FormatAuto
	}
	return f
}

// LogLevel returns log.level as a logging.Level.
func (c *Config) LogLevel() logging.Level {
	level, _ := logging.ParseLevel(c.Log.Level)
	return level
}
