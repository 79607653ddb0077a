package core

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/drand/ordering/common/key"
	"github.com/drand/ordering/common/log"
	"github.com/drand/ordering/internal/backup"
	"github.com/drand/ordering/internal/data"
	"github.com/drand/ordering/internal/engine"
	"github.com/drand/ordering/internal/net"
)

// DefaultNodes is the number of participants when none is configured.
const DefaultNodes = 5

// DefaultGrace is how long a participant keeps running after its target was
// reached, so that slower peers can still collect its signatures.
const DefaultGrace = 10 * time.Second

// ConfigOption is a function that applies a specific setting to a Config.
type ConfigOption func(*Config)

// Config holds all relevant information for a participant to run a session.
type Config struct {
	index       key.Index
	nodes       int
	items       [][]byte
	expected    int
	folder      string
	grace       time.Duration
	basePort    int
	group       *key.Group
	pair        *key.Pair
	bindRetry   time.Duration
	tickPeriod  time.Duration
	maxDatagram int
	ledger      bool
	logger      log.Logger
	clock       clockwork.Clock
}

// NewConfig returns the config to pass to NewSession with the default options
// set and the updated values given by the options.
func NewConfig(opts ...ConfigOption) *Config {
	c := &Config{
		nodes:       DefaultNodes,
		folder:      backup.DefaultFolder,
		grace:       DefaultGrace,
		basePort:    key.DefaultBasePort,
		bindRetry:   net.DefaultBindRetry,
		tickPeriod:  engine.DefaultTickPeriod,
		maxDatagram: net.MaxDatagramSize,
		ledger:      true,
		logger:      log.DefaultLogger(),
		clock:       clockwork.NewRealClock(),
	}
	for i := range opts {
		opts[i](c)
	}
	return c
}

// Index returns the index of the local participant.
func (c *Config) Index() key.Index {
	return c.index
}

// Nodes returns the number of participants. A configured group takes
// precedence over WithNodes.
func (c *Config) Nodes() int {
	if c.group != nil {
		return c.group.Len()
	}
	return c.nodes
}

// Folder returns the folder holding the recovery log and the ledger.
func (c *Config) Folder() string {
	return c.folder
}

// Logger returns the logger associated with this config.
func (c *Config) Logger() log.Logger {
	return c.logger
}

// Group returns the configured group, or the default local group of Nodes()
// participants on consecutive ports.
func (c *Config) Group() *key.Group {
	if c.group != nil {
		return c.group
	}
	return key.NewDefaultGroup(c.nodes, c.basePort)
}

// WithIndex sets the index of the local participant.
func WithIndex(i key.Index) ConfigOption {
	return func(c *Config) {
		c.index = i
	}
}

// WithNodes sets the number of participants of the default local group.
func WithNodes(n int) ConfigOption {
	return func(c *Config) {
		c.nodes = n
	}
}

// WithItems sets the items the local participant proposes, in order.
func WithItems(items [][]byte) ConfigOption {
	return func(c *Config) {
		c.items = items
	}
}

// WithStringItems proposes every character of s as one item.
func WithStringItems(s string) ConfigOption {
	return func(c *Config) {
		c.items = data.Runes(s)
	}
}

// WithExpected sets how many finalized items are expected from every
// participant before the session winds down. Zero means as many as the local
// participant proposes.
func WithExpected(n int) ConfigOption {
	return func(c *Config) {
		c.expected = n
	}
}

// WithFolder sets the folder holding the recovery log and the ledger.
func WithFolder(folder string) ConfigOption {
	return func(c *Config) {
		c.folder = folder
	}
}

// WithGrace sets how long the session keeps running once the target is
// reached.
func WithGrace(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.grace = d
	}
}

// WithBasePort sets the port of participant 0 in the default local group.
func WithBasePort(port int) ConfigOption {
	return func(c *Config) {
		c.basePort = port
	}
}

// WithGroup sets the participants and their addresses explicitly.
func WithGroup(g *key.Group) ConfigOption {
	return func(c *Config) {
		c.group = g
	}
}

// WithKeyPair authenticates messages with BLS signatures using the given
// private key. The group must then carry every participant's public key.
func WithKeyPair(p *key.Pair) ConfigOption {
	return func(c *Config) {
		c.pair = p
	}
}

// WithBindRetry sets the wait between two attempts to bind the local
// endpoint.
func WithBindRetry(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.bindRetry = d
	}
}

// WithTickPeriod sets how often the engine rebroadcasts pending messages.
func WithTickPeriod(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.tickPeriod = d
	}
}

// WithMaxDatagramSize bounds the size of the datagrams exchanged.
func WithMaxDatagramSize(n int) ConfigOption {
	return func(c *Config) {
		c.maxDatagram = n
	}
}

// WithLedger enables or disables the journal of finalized items.
func WithLedger(enabled bool) ConfigOption {
	return func(c *Config) {
		c.ledger = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) ConfigOption {
	return func(c *Config) {
		c.logger = l
	}
}

// WithClock sets the clock driving the grace interval and the engine ticks.
func WithClock(clock clockwork.Clock) ConfigOption {
	return func(c *Config) {
		c.clock = clock
	}
}
