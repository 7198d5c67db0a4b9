// Package config loads and resolves the client-runner configuration file.
//
// Two file formats are accepted:
//   - YAML (.yaml / .yml), decoded with gopkg.in/yaml.v3
//   - JSON with comments (.json / .jsonc), cleaned with github.com/tidwall/jsonc
//     and decoded with encoding/json
//
// Loading only decodes. Resolve applies defaults, validates, and produces
// the immutable model.EffectiveConfig the lifecycle consumes.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/client-runner/internal/model"
)

// DefaultPath is the configuration file looked up when --config is not set.
const DefaultPath = "client-runner.yaml"

// File is the raw, user-facing configuration structure. Zero values mean
// "not set"; defaults are applied by Resolve, never by the loader.
type File struct {
	// Module is the client's process identity (moduleName).
	Module string `yaml:"module" json:"module"`

	// Execution is "consistent" or "parallel".
	Execution string `yaml:"execution" json:"execution"`

	// DuplicatePolicy is "abort" or "proceed".
	DuplicatePolicy string `yaml:"duplicatePolicy" json:"duplicatePolicy"`

	Ports        PortsSection   `yaml:"ports" json:"ports"`
	Pool         PoolSection    `yaml:"pool" json:"pool"`
	ProcessTable string         `yaml:"processTable" json:"processTable"`
	Retry        RetrySection   `yaml:"retry" json:"retry"`
	Task         TaskSection    `yaml:"task" json:"task"`
	Alert        AlertSection   `yaml:"alert" json:"alert"`
	Metrics      MetricsSection `yaml:"metrics" json:"metrics"`
}

// PortsSection describes how the run obtains its ports.
type PortsSection struct {
	Installation  string   `yaml:"installation" json:"installation"`
	Required      int      `yaml:"required" json:"required"`
	Fixed         []string `yaml:"fixed" json:"fixed"`
	ResourceClass string   `yaml:"resourceClass" json:"resourceClass"`
	Host          string   `yaml:"host" json:"host"`
}

// PoolSection selects and configures the shared port pool.
type PoolSection struct {
	// Backend is "local" (in-process, scanner based) or "redis" (shared).
	Backend    string       `yaml:"backend" json:"backend"`
	RangeStart int          `yaml:"rangeStart" json:"rangeStart"`
	RangeEnd   int          `yaml:"rangeEnd" json:"rangeEnd"`
	Redis      RedisSection `yaml:"redis" json:"redis"`
}

// RedisSection holds connection settings for the redis pool backend.
type RedisSection struct {
	Address  string `yaml:"address" json:"address"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

// RetrySection holds the bounded-retry constants. Pointers distinguish an
// explicit 0 (e.g. no additional sleep) from "not set".
type RetrySection struct {
	MaxRecursionAttempts *int `yaml:"maxRecursionAttempts" json:"maxRecursionAttempts"`
	MaxGetTaskAttempts   *int `yaml:"maxGetTaskAttempts" json:"maxGetTaskAttempts"`
	AdditionalSleepTime  *int `yaml:"additionalSleepTime" json:"additionalSleepTime"`
}

// TaskSection configures the command that creates tasks and the report it
// leaves for inspection.
type TaskSection struct {
	Command    []string          `yaml:"command" json:"command"`
	ReportFile string            `yaml:"reportFile" json:"reportFile"`
	Timeout    string            `yaml:"timeout" json:"timeout"`
	Env        map[string]string `yaml:"env" json:"env"`
	Dir        string            `yaml:"dir" json:"dir"`
}

// AlertSection configures attention-mail delivery. When SMTP.Host is empty
// attention messages only go to the log.
type AlertSection struct {
	SMTP SMTPSection `yaml:"smtp" json:"smtp"`
}

// SMTPSection holds SMTP relay settings.
type SMTPSection struct {
	Host     string   `yaml:"host" json:"host"`
	Port     int      `yaml:"port" json:"port"`
	Username string   `yaml:"username" json:"username"`
	Password string   `yaml:"password" json:"password"`
	From     string   `yaml:"from" json:"from"`
	To       []string `yaml:"to" json:"to"`
}

// MetricsSection configures the prometheus textfile export.
type MetricsSection struct {
	Textfile string `yaml:"textfile" json:"textfile"`
}

// Load reads a configuration file, choosing the decoder by extension.
//
// Returns a CLIError with ExitConfigInvalid if the file does not exist or
// cannot be decoded. Unknown fields are rejected so typos surface early.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.WrapCLIError(
				model.ExitConfigInvalid,
				fmt.Sprintf("configuration file not found: %s", path),
				err,
			)
		}
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	var f *File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		f, err = DecodeJSONC(data)
	default:
		f, err = DecodeYAML(bytes.NewReader(data))
	}
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitConfigInvalid,
			fmt.Sprintf("failed to parse configuration %s", path),
			err,
		)
	}
	return f, nil
}

// DecodeYAML decodes a YAML document into a File.
// An empty document decodes to an empty File.
func DecodeYAML(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &f, nil
}

// DecodeJSONC strips comments and trailing commas before decoding JSON.
func DecodeJSONC(data []byte) (*File, error) {
	var f File
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}
