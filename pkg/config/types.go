package config

import (
	"time"

	"github.com/openfroyo/linkrt/pkg/lifecycle"
	"github.com/openfroyo/linkrt/pkg/pipeline"
	"github.com/openfroyo/linkrt/pkg/telemetry"
)

// DefaultStatusInterval is how often `linkrt run` logs a status summary.
const DefaultStatusInterval = 30 * time.Second

// File is the root of a linkrt configuration file.
type File struct {
	// Telemetry configures logging, tracing, metrics and events. Keys left
	// out of the file keep their telemetry.DefaultConfig values.
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`

	// StatusInterval is how often a status summary is logged. Zero uses
	// DefaultStatusInterval.
	StatusInterval time.Duration `yaml:"status_interval" json:"status_interval" validate:"gte=0"`

	// Resources are the managed I/O resources.
	Resources []ResourceConfig `yaml:"resources" json:"resources" validate:"dive"`

	// Pipelines are producer-consumer pipelines fed by resources.
	Pipelines []PipelineConfig `yaml:"pipelines" json:"pipelines" validate:"dive"`
}

// ResourceConfig describes one resource and the driver that implements it.
type ResourceConfig struct {
	lifecycle.Config `yaml:",inline"`

	// Driver names the registered driver (e.g., "sim", "tcp").
	Driver string `yaml:"driver" json:"driver" validate:"required"`

	// Options are driver-specific settings.
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// PipelineConfig describes a pipeline and the resources at either end.
type PipelineConfig struct {
	pipeline.Config `yaml:",inline"`

	// Source is the resource whose reads are submitted to the pipeline.
	Source string `yaml:"source" json:"source" validate:"required"`

	// Sink is the resource each consumed item is written to. Empty
	// discards consumed items after counting them.
	Sink string `yaml:"sink,omitempty" json:"sink,omitempty"`
}

// Resource returns the resource named name.
func (f *File) Resource(name string) (ResourceConfig, bool) {
	for _, r := range f.Resources {
		if r.Name == name {
			return r, true
		}
	}
	return ResourceConfig{}, false
}

// Pipeline returns the pipeline named name.
func (f *File) Pipeline(name string) (PipelineConfig, bool) {
	for _, p := range f.Pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return PipelineConfig{}, false
}
