package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/serverledge-faas/smartlambda/internal/event"
)

const (
	DefaultPollInterval      = 1 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
)

var ErrInvalidConfig = errors.New("invalid scheduler configuration")

// Config holds the timing parameters of the claim loop.
type Config struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	// Tolerance is the lock age after which an event may be claimed again.
	Tolerance time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:      DefaultPollInterval,
		HeartbeatInterval: DefaultHeartbeatInterval,
		Tolerance:         event.DefaultTolerance,
	}
}

// ConfigFromSettings reads the loop parameters from the node configuration.
func ConfigFromSettings() Config {
	return Config{
		PollInterval:      config.GetDuration(config.SCHEDULER_POLL_INTERVAL, DefaultPollInterval),
		HeartbeatInterval: config.GetDuration(config.SCHEDULER_HEARTBEAT_INTERVAL, DefaultHeartbeatInterval),
		Tolerance:         config.GetDuration(config.SCHEDULER_LOCK_TOLERANCE, event.DefaultTolerance),
	}
}

// Validate checks that a live claimant heartbeats at least twice within the
// tolerance window. Heartbeats happen during the sweep, so the poll interval
// bounds them too.
func (c Config) Validate() error {
	if c.PollInterval <= 0 || c.HeartbeatInterval <= 0 || c.Tolerance <= 0 {
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	}
	beat := max(c.HeartbeatInterval, c.PollInterval)
	if 2*beat > c.Tolerance {
		return fmt.Errorf("%w: heartbeat every %v is too slow for tolerance %v", ErrInvalidConfig, beat, c.Tolerance)
	}
	return nil
}
