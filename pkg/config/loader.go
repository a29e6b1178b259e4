package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/linkrt/pkg/telemetry"
)

var validate = validator.New()

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*File, error) {
	f := &File{Telemetry: *telemetry.DefaultConfig()}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	f.applyDefaults()

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) applyDefaults() {
	if f.StatusInterval == 0 {
		f.StatusInterval = DefaultStatusInterval
	}
	for i := range f.Resources {
		f.Resources[i].Config = f.Resources[i].Config.WithDefaults()
	}
	for i := range f.Pipelines {
		f.Pipelines[i].Config = f.Pipelines[i].Config.WithDefaults()
	}
}

// Validate checks struct constraints and cross references. All problems are
// reported together.
func (f *File) Validate() error {
	var errs []error

	if err := validate.Struct(f); err != nil {
		errs = append(errs, err)
	}
	if err := f.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	resources := make(map[string]bool, len(f.Resources))
	for _, r := range f.Resources {
		if resources[r.Name] {
			errs = append(errs, fmt.Errorf("duplicate resource name %q", r.Name))
		}
		resources[r.Name] = true
	}

	pipelines := make(map[string]bool, len(f.Pipelines))
	for _, p := range f.Pipelines {
		if pipelines[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate pipeline name %q", p.Name))
		}
		if resources[p.Name] {
			errs = append(errs, fmt.Errorf("pipeline %q: name already used by a resource", p.Name))
		}
		pipelines[p.Name] = true

		if p.Source != "" && !resources[p.Source] {
			errs = append(errs, fmt.Errorf("pipeline %q: unknown source resource %q", p.Name, p.Source))
		}
		if p.Sink != "" && !resources[p.Sink] {
			errs = append(errs, fmt.Errorf("pipeline %q: unknown sink resource %q", p.Name, p.Sink))
		}
		if p.Sink != "" && p.Sink == p.Source {
			errs = append(errs, fmt.Errorf("pipeline %q: sink and source must differ", p.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
