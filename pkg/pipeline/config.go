package pipeline

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/linkrt/pkg/stats"
)

// DefaultJoinTimeout bounds how long Destroy waits for the consumer loop.
const DefaultJoinTimeout = 5 * time.Second

// Config configures a producer-consumer pipeline.
type Config struct {
	// Name identifies the pipeline in hooks, logs and metrics.
	Name string `yaml:"name" json:"name" validate:"required"`

	// MaxQueueSize bounds the queue. Zero means unbounded.
	MaxQueueSize int `yaml:"max_queue_size" json:"max_queue_size" validate:"gte=0"`

	// MaxOutstanding rejects production once queued plus in-flight items
	// reach it. Zero disables producer-side backpressure.
	MaxOutstanding int `yaml:"max_outstanding" json:"max_outstanding" validate:"gte=0"`

	// MaxParallelism is the number of consumer workers per drain pass.
	// Values below one mean one.
	MaxParallelism int `yaml:"max_parallelism" json:"max_parallelism" validate:"gte=0,lte=1024"`

	// ConsumeRate paces consumption in items per second. Zero is unpaced.
	ConsumeRate float64 `yaml:"consume_rate" json:"consume_rate" validate:"gte=0"`

	// ConsumeBurst is the pacing burst size. Defaults to MaxParallelism.
	ConsumeBurst int `yaml:"consume_burst" json:"consume_burst" validate:"gte=0"`

	// JoinTimeout bounds Destroy.
	JoinTimeout time.Duration `yaml:"join_timeout" json:"join_timeout" validate:"gte=0"`

	// Histogram is the consume latency histogram range in milliseconds.
	Histogram stats.HistogramConfig `yaml:"histogram" json:"histogram"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.MaxParallelism < 1 {
		c.MaxParallelism = 1
	}
	if c.ConsumeBurst == 0 {
		c.ConsumeBurst = c.MaxParallelism
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.Histogram == (stats.HistogramConfig{}) {
		c.Histogram = stats.DefaultHistogramConfig()
	}
	return c
}

var validate = validator.New()

// Validate checks struct constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid pipeline config %q: %w", c.Name, err)
	}
	return nil
}
