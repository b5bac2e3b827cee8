// Package simulate plays server-side rounds against a running versus service
// with a hidden preference order and measures how well the resulting scores
// recover it.
package simulate

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid simulation config")

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL string        // Base URL of the service
	Players int           // Number of players, one session each
	Workers int           // Number of concurrent players
	Timeout time.Duration // HTTP request timeout
	Policy  string        // Replenishment policy; empty uses the server default
	Tags    []string      // Restrict items to these tags
	Batch   int           // Session batch size; 0 uses the server default
	Seed    string        // Seeds the hidden preference order
	Prefix  string        // Player id prefix
	Verbose bool          // Log every session
}

// DefaultConfig returns a config for a local service.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:9080",
		Players: 20,
		Workers: runtime.NumCPU(),
		Timeout: 30 * time.Second,
		Seed:    "versus",
		Prefix:  "sim",
	}
}

// Validate checks the config before a run.
func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case c.Players < 1:
		return fmt.Errorf("%w: players must be positive", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	case c.Batch < 0:
		return fmt.Errorf("%w: batch must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Stats holds the outcome of a run.
type Stats struct {
	Players   int
	Finished  int
	Failed    int
	Picks     int
	Items     int
	Agreement float64 // mean pairwise agreement over finished players
	Duration  time.Duration
}
