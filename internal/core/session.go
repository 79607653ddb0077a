// Package core runs the session of one participant: it wires the feed, the
// sink, the recovery log, the transport and the keychain around the engine,
// tallies finalized items and winds the session down once every participant
// reached its target.
package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	json "github.com/nikkolasg/hexjson"

	"github.com/drand/ordering/common/key"
	"github.com/drand/ordering/common/log"
	"github.com/drand/ordering/crypto"
	"github.com/drand/ordering/internal/backup"
	"github.com/drand/ordering/internal/data"
	"github.com/drand/ordering/internal/engine"
	"github.com/drand/ordering/internal/ledger"
	"github.com/drand/ordering/internal/metrics"
	"github.com/drand/ordering/internal/net"
)

// ErrFinalizationClosed is returned by Run when the engine stopped delivering
// finalized items before every participant reached its target.
var ErrFinalizationClosed = errors.New("finalization stream closed before the target was reached")

// ErrAlreadyRun is returned when Run is called more than once.
var ErrAlreadyRun = errors.New("session already run")

// State is a step of the session lifecycle.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateShuttingDown
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateShuttingDown:
		return "shutting down"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Session is one run of a participant.
type Session struct {
	conf     *Config
	id       string
	nodes    int
	expected int
	log      log.Logger

	feed      *data.Feed
	sink      *data.Sink
	backup    *backup.Log
	ledger    *ledger.Ledger
	transport *net.Transport[*engine.Message]
	engine    *engine.Engine

	sync.Mutex
	ran   bool
	state State
	// snapshot of the run loop tally, for observers
	tally map[key.Index]int
}

// NewSession performs the startup of a participant: it registers the
// addresses, binds the endpoint, opens the recovery log and prepares the
// engine. Any error here is fatal to the participant.
func NewSession(ctx context.Context, c *Config) (_ *Session, err error) {
	id := uuid.New().String()
	l := c.Logger().With("session", id, "index", c.index)

	group := c.Group()
	nodes := group.Len()
	if err := group.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if !c.index.Valid(nodes) {
		return nil, fmt.Errorf("session: index %d out of range for %d participants", c.index, nodes)
	}

	kc, err := keychain(c, group)
	if err != nil {
		return nil, err
	}
	addrs, err := net.AddressesFromGroup(group)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	feed := data.NewFeed(l.Named("feed"), c.index, c.items)
	expected := c.expected
	if expected <= 0 {
		expected = feed.Len()
		l.Infow("no explicit target, assuming every participant proposes as many items as this one", "expected", expected)
	}

	s := &Session{
		conf:     c,
		id:       id,
		nodes:    nodes,
		expected: expected,
		log:      l,
		feed:     feed,
		sink:     data.NewSink(l.Named("sink")),
		tally:    make(map[key.Index]int),
	}
	defer func() {
		if err != nil {
			s.sink.Stop()
			if cerr := s.close(); cerr != nil {
				l.Warnw("releasing resources after a failed startup", "err", cerr)
			}
		}
	}()

	s.backup, err = backup.Open(l.Named("backup"), c.folder, c.index)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if c.ledger {
		s.ledger, err = ledger.Open(ctx, l.Named("ledger"), c.folder, c.index, nil)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
	}
	s.transport, err = net.NewTransport[*engine.Message](ctx, l.Named("transport"), c.index, addrs,
		net.WithBindRetry(c.bindRetry), net.WithMaxDatagramSize(c.maxDatagram))
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	loader, err := s.backup.Loader()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	econf := engine.DefaultConfig(nodes, c.index)
	econf.TickPeriod = c.tickPeriod
	econf.Clock = c.clock
	s.engine, err = engine.New(l.Named("engine"), econf, kc, s.transport, engine.LocalIO{
		Data:         feed,
		Finalization: s.sink,
		Saver:        s.backup.Saver(),
		Loader:       loader,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	l.Infow("session ready", "nodes", nodes, "quorum", econf.Quorum, "items", feed.Len(), "expected", expected, "folder", c.folder)
	return s, nil
}

func keychain(c *Config, group *key.Group) (crypto.MultiKeychain, error) {
	if c.pair == nil {
		c.Logger().Warnw("no private key configured, messages are not authenticated")
		return crypto.NewPlainKeychain(group.Len(), c.index), nil
	}
	if c.pair.Public.Index != c.index {
		return nil, fmt.Errorf("session: private key of participant %d used by participant %d", c.pair.Public.Index, c.index)
	}
	kc, err := crypto.NewBLSKeychain(c.pair, group)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return kc, nil
}

// ID returns the identifier of the session, shared by its log lines and
// ledger entries.
func (s *Session) ID() string {
	return s.id
}

// Expected returns the number of items awaited from every participant.
func (s *Session) Expected() int {
	return s.expected
}

// LocalAddr returns the endpoint the session is bound to.
func (s *Session) LocalAddr() string {
	return s.transport.LocalAddr().String()
}

// State returns the current lifecycle step.
func (s *Session) State() State {
	s.Lock()
	defer s.Unlock()
	return s.state
}

// Tally returns how many finalized items were received per origin so far.
func (s *Session) Tally() map[key.Index]int {
	s.Lock()
	defer s.Unlock()
	t := make(map[key.Index]int, len(s.tally))
	for k, v := range s.tally {
		t[k] = v
	}
	return t
}

func (s *Session) setState(state State) {
	s.Lock()
	s.state = state
	s.Unlock()
	metrics.SessionState.Set(float64(state))
	s.log.Infow("session state", "state", state.String())
}

func (s *Session) publish(tally map[key.Index]int) {
	s.Lock()
	defer s.Unlock()
	for k, v := range tally {
		s.tally[k] = v
	}
}

// Run drives the session until every participant reached its target and the
// grace interval elapsed, or until ctx is done. It then stops the engine,
// waits for it and releases every resource. It returns the engine's error,
// and ErrFinalizationClosed if the engine stopped delivering too early.
func (s *Session) Run(ctx context.Context) error {
	s.Lock()
	if s.ran {
		s.Unlock()
		return ErrAlreadyRun
	}
	s.ran = true
	s.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	spawner := NewSpawner(runCtx, s.log.Named("spawner"))
	spawner.Spawn("engine", func(ctx context.Context) error {
		defer s.sink.Close()
		return s.engine.Run(ctx, spawner)
	})
	s.setState(StateRunning)

	err := s.loop(ctx, make(map[key.Index]int))

	s.setState(StateShuttingDown)
	cancel()
	s.sink.Stop()
	if werr := spawner.Wait(); werr != nil {
		err = combine(err, werr)
	}
	if cerr := s.close(); cerr != nil {
		s.log.Warnw("releasing resources", "err", cerr)
	}
	s.setState(StateDone)
	return err
}

// loop consumes finalized items until the session is over. The tally is
// owned by the loop; observers get copies through publish.
func (s *Session) loop(ctx context.Context, tally map[key.Index]int) error {
	items := s.sink.Items()
	var grace <-chan time.Time
	if s.reached(tally) {
		grace = s.drain()
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Infow("exit requested", "tally", tally)
			return nil
		case <-grace:
			s.log.Infow("grace interval elapsed", "tally", tally)
			return nil
		case item, ok := <-items:
			if !ok {
				if ctx.Err() != nil || grace != nil {
					s.log.Infow("finalization stream ended", "tally", tally, "state", s.State().String())
					return nil
				}
				s.log.Errorw("finalization stream ended before the target was reached", "tally", tally, "expected", s.expected)
				return ErrFinalizationClosed
			}
			s.record(ctx, tally, item)
			if grace == nil && s.reached(tally) {
				grace = s.drain()
			}
		}
	}
}

func (s *Session) drain() <-chan time.Time {
	grace := s.conf.clock.After(s.conf.grace)
	s.setState(StateDraining)
	s.log.Infow("target reached, draining", "grace", s.conf.grace)
	return grace
}

func (s *Session) record(ctx context.Context, tally map[key.Index]int, item data.Item) {
	if !item.Origin.Valid(s.nodes) {
		s.log.Warnw("ignoring finalized item of unknown origin", "origin", item.Origin, "nodes", s.nodes)
		return
	}
	tally[item.Origin]++
	s.publish(tally)
	metrics.FinalizedItems.WithLabelValues(item.Origin.String()).Inc()
	s.log.Debugw("finalized", "origin", item.Origin, "payload", string(item.Payload), "tally", tally)

	if s.ledger == nil {
		return
	}
	if _, err := s.ledger.Append(ctx, s.id, item); err != nil {
		s.log.Errorw("could not journal finalized item", "origin", item.Origin, "err", err)
	}
}

func (s *Session) reached(tally map[key.Index]int) bool {
	for i := 0; i < s.nodes; i++ {
		if tally[key.Index(i)] < s.expected {
			return false
		}
	}
	return true
}

func (s *Session) close() error {
	var err error
	if s.transport != nil {
		if cerr := s.transport.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}
	if s.backup != nil {
		if cerr := s.backup.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}
	if s.ledger != nil {
		if cerr := s.ledger.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}
	return err
}

func combine(err, other error) error {
	if err == nil {
		return other
	}
	return multierror.Append(err, other)
}

type status struct {
	Session  string         `json:"session"`
	Index    key.Index      `json:"index"`
	State    string         `json:"state"`
	Expected int            `json:"expected"`
	Tally    map[string]int `json:"tally"`
}

// StatusHandler serves the state and tally of the session as JSON.
func (s *Session) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := status{
			Session:  s.id,
			Index:    s.conf.index,
			State:    s.State().String(),
			Expected: s.expected,
			Tally:    make(map[string]int),
		}
		for i, c := range s.Tally() {
			st.Tally[strconv.Itoa(int(i))] = c
		}
		buff, err := json.Marshal(st)
		if err != nil {
			s.log.Warnw("encoding status", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(buff)
	})
}
