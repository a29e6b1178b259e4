package lifecycle

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/linkrt/pkg/stats"
)

// Default values resolved by Config.WithDefaults.
const (
	DefaultConnectionTimeout = 5 * time.Second
	DefaultReadTimeout       = time.Second
	DefaultWriteTimeout      = time.Second
	DefaultBufferSize        = 4096
	DefaultDestroyAttempts   = 3
	DefaultDestroyBackoff    = 50 * time.Millisecond
	DefaultJoinTimeout       = 5 * time.Second

	maxDestroyBackoff = time.Second
)

// Config configures one managed resource. Zero values are replaced by defaults
// once, when the controller is constructed.
type Config struct {
	// Name identifies the resource in hooks, logs and metrics.
	Name string `yaml:"name" json:"name" validate:"required"`

	// ConnectionString is interpreted by the driver (address, device path, ...).
	ConnectionString string `yaml:"connection_string" json:"connection_string"`

	// ConnectionTimeout, ReadTimeout and WriteTimeout are driver-level
	// deadlines. The controller itself never imposes them.
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout" validate:"gte=0"`
	ReadTimeout       time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gte=0"`
	WriteTimeout      time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gte=0"`

	// StreamMode asks the driver for a stream rather than a datagram
	// transport. Unset means stream.
	StreamMode *bool `yaml:"stream_mode,omitempty" json:"stream_mode,omitempty"`

	// ReadBufferSize is the largest single read; WriteBufferSize is the
	// socket send buffer requested by drivers that have one.
	ReadBufferSize  int `yaml:"read_buffer_size" json:"read_buffer_size" validate:"gte=0"`
	WriteBufferSize int `yaml:"write_buffer_size" json:"write_buffer_size" validate:"gte=0"`

	// PollInterval drives periodic ReadData. Zero disables polling.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" validate:"gte=0"`

	// PollingPaused creates the poller with its timer disabled.
	PollingPaused bool `yaml:"polling_paused" json:"polling_paused"`

	// AllowOverlap lets a poll start while the previous one is still running.
	// Reads stay serialized by the read lock either way.
	AllowOverlap bool `yaml:"allow_overlap" json:"allow_overlap"`

	// Disabled blocks new Connect attempts.
	Disabled bool `yaml:"disabled" json:"disabled"`

	// ReconnectOnError disconnects after a failed read or write (timeouts and
	// drops excluded) so the next operation reconnects.
	ReconnectOnError bool `yaml:"reconnect_on_error" json:"reconnect_on_error"`

	// DestroyAttempts bounds driver Destroy retries.
	DestroyAttempts int `yaml:"destroy_attempts" json:"destroy_attempts" validate:"gte=0,lte=100"`

	// DestroyBackoff is the first retry delay; it doubles up to one second.
	DestroyBackoff time.Duration `yaml:"destroy_backoff" json:"destroy_backoff" validate:"gte=0"`

	// JoinTimeout bounds how long Destroy waits for the poller.
	JoinTimeout time.Duration `yaml:"join_timeout" json:"join_timeout" validate:"gte=0"`

	// Histogram is the latency histogram range in milliseconds.
	Histogram stats.HistogramConfig `yaml:"histogram" json:"histogram"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.StreamMode == nil {
		stream := true
		c.StreamMode = &stream
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = DefaultBufferSize
	}
	if c.DestroyAttempts == 0 {
		c.DestroyAttempts = DefaultDestroyAttempts
	}
	if c.DestroyBackoff == 0 {
		c.DestroyBackoff = DefaultDestroyBackoff
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.Histogram == (stats.HistogramConfig{}) {
		c.Histogram = stats.DefaultHistogramConfig()
	}
	return c
}

// Stream reports whether a stream transport is requested.
func (c Config) Stream() bool {
	return c.StreamMode == nil || *c.StreamMode
}

var validate = validator.New()

// Validate checks struct constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid resource config %q: %w", c.Name, err)
	}
	return nil
}

// destroyBackoff returns the delay before retry number attempt (1-based).
func (c Config) destroyBackoff(attempt int) time.Duration {
	d := c.DestroyBackoff
	for i := 1; i < attempt && d < maxDestroyBackoff; i++ {
		d *= 2
	}
	if d > maxDestroyBackoff {
		d = maxDestroyBackoff
	}
	return d
}
