// Package engine holds the contract between a participant and the ordering
// engine, together with a reference engine implementing it.
//
// The reference engine certifies and delivers: every participant turns its
// items into units one at a time, collects a quorum multisignature over each
// unit and then broadcasts the certificate. Certified units are finalized per
// creator in round order. It tolerates lost, duplicated and reordered
// datagrams but it does not agree on a total order across creators and is
// not a Byzantine agreement protocol; it stands in for one behind the same
// interfaces.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/blake2b"

	"github.com/drand/ordering/common/key"
	"github.com/drand/ordering/common/log"
	"github.com/drand/ordering/crypto"
	"github.com/drand/ordering/internal/data"
	"github.com/drand/ordering/internal/metrics"
	"github.com/drand/ordering/internal/net"
)

// DataProvider supplies the items this participant proposes. It returns false
// once it has nothing more to offer.
type DataProvider interface {
	Next(ctx context.Context) (data.Item, bool)
}

// FinalizationHandler receives finalized items. It must not block.
type FinalizationHandler interface {
	Finalized(item data.Item)
}

// Network exchanges engine messages with the other participants. Delivery is
// best effort.
type Network interface {
	Send(msg *Message, r net.Recipient)
	Next(ctx context.Context) (*Message, bool)
}

// Spawner runs background tasks on behalf of the engine. The context handed
// to a task is done when the session ends.
type Spawner interface {
	Spawn(name string, task func(ctx context.Context) error)
}

// LocalIO groups the local ends of the engine: where items come from, where
// finalized items go, and the recovery stream.
type LocalIO struct {
	Data         DataProvider
	Finalization FinalizationHandler
	// Saver receives every backup record, one Write per record.
	Saver io.Writer
	// Loader yields the records written by previous runs.
	Loader io.Reader
}

// ErrAlreadyRun is returned when Run is called more than once.
var ErrAlreadyRun = errors.New("engine: already run")

const incomingBuffer = 256

type ownUnit struct {
	unit   *Unit
	digest []byte
	multi  *crypto.SignatureSet
	done   bool
}

// Engine is the reference engine of one participant.
type Engine struct {
	conf  *Config
	kc    crypto.MultiKeychain
	net   Network
	io    LocalIO
	codec *net.Codec
	votes *lru.Cache
	log   log.Logger

	started bool
	// own units in round order; only the last one may be uncertified.
	own       []*ownUnit
	exhausted bool
	// certified units not yet finalized, by creator and round.
	certified map[key.Index]map[uint64]*Unit
	// next round to finalize, by creator.
	next map[key.Index]uint64
}

// New returns an engine for the participant described by conf.
func New(l log.Logger, conf *Config, kc crypto.MultiKeychain, network Network, lio LocalIO) (*Engine, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if kc.Index() != conf.Index || kc.NodeCount() != conf.NodeCount {
		return nil, fmt.Errorf("engine: keychain of node %d/%d used for node %d/%d",
			kc.Index(), kc.NodeCount(), conf.Index, conf.NodeCount)
	}
	if lio.Data == nil || lio.Finalization == nil || lio.Saver == nil || lio.Loader == nil {
		return nil, errors.New("engine: incomplete local io")
	}
	codec, err := net.NewCodec()
	if err != nil {
		return nil, err
	}
	votes, err := lru.New(conf.VoteCacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		conf:      conf,
		kc:        kc,
		net:       network,
		io:        lio,
		codec:     codec,
		votes:     votes,
		log:       l,
		certified: make(map[key.Index]map[uint64]*Unit),
		next:      make(map[key.Index]uint64),
	}, nil
}

// Run replays the backup, then drives the protocol until ctx is done. It
// returns nil on a requested exit and an error when the backup is unusable
// or cannot be appended to.
func (e *Engine) Run(ctx context.Context, spawner Spawner) error {
	if e.started {
		return ErrAlreadyRun
	}
	e.started = true

	if err := e.replay(); err != nil {
		return err
	}
	for i := 0; i < len(e.own); i++ {
		if _, ok := e.io.Data.Next(ctx); !ok {
			e.log.Warnw("data feed shorter than the replayed units", "units", len(e.own), "skipped", i)
			break
		}
	}

	incoming := make(chan *Message, incomingBuffer)
	spawner.Spawn("engine/receive", func(ctx context.Context) error {
		e.receive(ctx, incoming)
		return nil
	})

	ticker := e.conf.Clock.NewTicker(e.conf.TickPeriod)
	defer ticker.Stop()

	if err := e.propose(ctx); err != nil {
		return err
	}
	e.log.Infow("engine started", "units", len(e.own), "tick", e.conf.TickPeriod)

	for {
		var err error
		select {
		case <-ctx.Done():
			e.log.Debugw("engine exiting", "units", len(e.own))
			return nil
		case <-ticker.Chan():
			err = e.tick(ctx)
		case msg := <-incoming:
			err = e.handle(ctx, msg)
		}
		if err != nil {
			return err
		}
	}
}

func (e *Engine) receive(ctx context.Context, incoming chan<- *Message) {
	for {
		msg, ok := e.net.Next(ctx)
		if ctx.Err() != nil {
			return
		}
		if !ok || msg == nil {
			continue
		}
		select {
		case incoming <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// tick proposes when possible and rebroadcasts every own unit: proposals
// until certified, certificates afterwards.
func (e *Engine) tick(ctx context.Context) error {
	if err := e.propose(ctx); err != nil {
		return err
	}
	for _, o := range e.own {
		if o.done {
			e.net.Send(&Message{Kind: KindCertificate, Creator: o.unit.Creator, Round: o.unit.Round, Unit: o.unit, Multi: o.multi}, net.Everyone)
			continue
		}
		e.net.Send(&Message{Kind: KindProposal, Creator: o.unit.Creator, Round: o.unit.Round, Unit: o.unit, Sig: o.multi.Get(e.conf.Index)}, net.Everyone)
	}
	return nil
}

// propose turns the next item into a unit as long as no own unit is waiting
// for its certificate.
func (e *Engine) propose(ctx context.Context) error {
	for !e.exhausted {
		if n := len(e.own); n > 0 && !e.own[n-1].done {
			return nil
		}
		item, ok := e.io.Data.Next(ctx)
		if !ok {
			if ctx.Err() == nil {
				e.exhausted = true
				e.log.Debugw("data feed exhausted", "units", len(e.own))
			}
			return nil
		}
		unit := &Unit{Creator: e.conf.Index, Round: uint64(len(e.own)), Item: item}
		if err := e.persist(&record{Kind: recordCreated, Unit: unit}); err != nil {
			return err
		}
		o, err := e.addOwn(unit)
		if err != nil {
			return err
		}
		e.log.Debugw("unit created", "round", unit.Round)
		if e.kc.IsComplete(o.digest, o.multi) {
			if err := e.certifyOwn(o); err != nil {
				return err
			}
			continue
		}
		e.net.Send(&Message{Kind: KindProposal, Creator: unit.Creator, Round: unit.Round, Unit: unit, Sig: o.multi.Get(e.conf.Index)}, net.Everyone)
	}
	return nil
}

func (e *Engine) addOwn(unit *Unit) (*ownUnit, error) {
	digest, err := e.digest(unit)
	if err != nil {
		return nil, err
	}
	sig, err := e.kc.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("engine: signing own unit: %w", err)
	}
	o := &ownUnit{unit: unit, digest: digest, multi: e.kc.BootstrapMulti(sig, e.conf.Index)}
	e.own = append(e.own, o)
	return o, nil
}

func (e *Engine) certifyOwn(o *ownUnit) error {
	o.done = true
	if err := e.persist(&record{Kind: recordCertified, Unit: o.unit, Multi: o.multi}); err != nil {
		return err
	}
	e.log.Debugw("own unit certified", "round", o.unit.Round, "signers", o.multi.Count())
	e.net.Send(&Message{Kind: KindCertificate, Creator: o.unit.Creator, Round: o.unit.Round, Unit: o.unit, Multi: o.multi}, net.Everyone)
	e.accept(o.unit)
	return nil
}

func (e *Engine) handle(ctx context.Context, msg *Message) error {
	switch msg.Kind {
	case KindProposal:
		e.handleProposal(msg)
	case KindVote:
		return e.handleVote(ctx, msg)
	case KindCertificate:
		return e.handleCertificate(msg)
	default:
		e.log.Debugw("unknown message kind", "kind", msg.Kind)
	}
	return nil
}

func (e *Engine) handleProposal(msg *Message) {
	u := msg.Unit
	if !e.wellFormed(u) || u.Creator == e.conf.Index || msg.Sig == nil {
		e.log.Debugw("ignoring malformed proposal", "creator", msg.Creator)
		return
	}
	digest, err := e.digest(u)
	if err != nil {
		return
	}
	if !e.kc.Verify(digest, msg.Sig, u.Creator) {
		e.log.Warnw("proposal with invalid signature", "creator", u.Creator, "round", u.Round)
		return
	}

	var vote *crypto.Signature
	if v, ok := e.votes.Get(string(digest)); ok {
		vote = v.(*crypto.Signature)
	} else {
		vote, err = e.kc.Sign(digest)
		if err != nil {
			e.log.Errorw("could not sign vote", "creator", u.Creator, "round", u.Round, "err", err)
			return
		}
		e.votes.Add(string(digest), vote)
	}
	e.net.Send(&Message{Kind: KindVote, Creator: u.Creator, Round: u.Round, Sig: vote}, net.ToNode(u.Creator))
}

func (e *Engine) handleVote(ctx context.Context, msg *Message) error {
	if msg.Creator != e.conf.Index || msg.Round >= uint64(len(e.own)) || msg.Sig == nil {
		return nil
	}
	o := e.own[msg.Round]
	if o.done {
		return nil
	}
	signer := msg.Sig.Index()
	if !e.kc.Verify(o.digest, msg.Sig, signer) {
		e.log.Warnw("vote with invalid signature", "signer", signer, "round", msg.Round)
		return nil
	}
	o.multi.Add(msg.Sig, signer)
	if !e.kc.IsComplete(o.digest, o.multi) {
		return nil
	}
	if err := e.certifyOwn(o); err != nil {
		return err
	}
	return e.propose(ctx)
}

func (e *Engine) handleCertificate(msg *Message) error {
	u := msg.Unit
	if !e.wellFormed(u) || u.Creator == e.conf.Index || msg.Multi == nil {
		return nil
	}
	if u.Round < e.next[u.Creator] {
		return nil
	}
	if _, ok := e.certified[u.Creator][u.Round]; ok {
		return nil
	}
	digest, err := e.digest(u)
	if err != nil {
		return nil
	}
	if !e.kc.IsComplete(digest, msg.Multi) {
		e.log.Warnw("incomplete certificate", "creator", u.Creator, "round", u.Round, "signers", msg.Multi.Count())
		return nil
	}
	if err := e.persist(&record{Kind: recordCertified, Unit: u, Multi: msg.Multi}); err != nil {
		return err
	}
	e.accept(u)
	return nil
}

func (e *Engine) wellFormed(u *Unit) bool {
	return u != nil && u.Creator.Valid(e.conf.NodeCount) && u.Item.Origin == u.Creator
}

// accept records a certified unit and finalizes every unit of its creator
// that is now contiguous.
func (e *Engine) accept(u *Unit) {
	rounds, ok := e.certified[u.Creator]
	if !ok {
		rounds = make(map[uint64]*Unit)
		e.certified[u.Creator] = rounds
	}
	rounds[u.Round] = u
	metrics.UnitsCertified.Inc()

	for {
		r := e.next[u.Creator]
		next, ok := rounds[r]
		if !ok {
			return
		}
		delete(rounds, r)
		e.next[u.Creator] = r + 1
		e.io.Finalization.Finalized(next.Item)
	}
}

func (e *Engine) digest(u *Unit) ([]byte, error) {
	buff, err := e.codec.Marshal(u)
	if err != nil {
		e.log.Errorw("could not encode unit", "creator", u.Creator, "round", u.Round, "err", err)
		return nil, err
	}
	d := blake2b.Sum256(buff)
	return d[:], nil
}
