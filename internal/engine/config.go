package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/drand/ordering/common/key"
)

// DefaultTickPeriod is how often unanswered proposals and own certificates
// are sent again.
const DefaultTickPeriod = 500 * time.Millisecond

// DefaultVoteCacheSize bounds the number of votes kept to answer repeated
// proposals without signing again.
const DefaultVoteCacheSize = 1024

// Config is the immutable configuration of one engine run.
type Config struct {
	Index     key.Index
	NodeCount int
	// Quorum is the number of signers a certificate needs. It must equal
	// key.Quorum(NodeCount).
	Quorum        int
	TickPeriod    time.Duration
	VoteCacheSize int
	Clock         clockwork.Clock
}

// DefaultConfig returns the configuration of participant index among n.
func DefaultConfig(n int, index key.Index) *Config {
	return &Config{
		Index:         index,
		NodeCount:     n,
		Quorum:        key.Quorum(n),
		TickPeriod:    DefaultTickPeriod,
		VoteCacheSize: DefaultVoteCacheSize,
		Clock:         clockwork.NewRealClock(),
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	switch {
	case c.NodeCount < 1:
		return errors.New("engine: at least one participant is needed")
	case !c.Index.Valid(c.NodeCount):
		return fmt.Errorf("engine: index %d out of range for %d participants", c.Index, c.NodeCount)
	case c.Quorum != key.Quorum(c.NodeCount):
		return fmt.Errorf("engine: quorum %d, expected %d for %d participants", c.Quorum, key.Quorum(c.NodeCount), c.NodeCount)
	case c.TickPeriod <= 0:
		return errors.New("engine: tick period must be positive")
	case c.VoteCacheSize <= 0:
		return errors.New("engine: vote cache size must be positive")
	case c.Clock == nil:
		return errors.New("engine: no clock")
	}
	return nil
}
