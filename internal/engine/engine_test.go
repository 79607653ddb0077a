package engine

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/drand/ordering/common/key"
	"github.com/drand/ordering/common/testlogger"
	"github.com/drand/ordering/crypto"
	"github.com/drand/ordering/internal/data"
	"github.com/drand/ordering/internal/net"
)

// hub connects in-memory networks. Messages go through the wire codec so
// that every test exercises the encoding.
type hub struct {
	codec   *net.Codec
	inboxes []chan []byte
}

func newHub(t *testing.T, n int) *hub {
	codec, err := net.NewCodec()
	require.NoError(t, err)
	h := &hub{codec: codec}
	for i := 0; i < n; i++ {
		h.inboxes = append(h.inboxes, make(chan []byte, 1024))
	}
	return h
}

type memNetwork struct {
	hub   *hub
	index key.Index
}

func (h *hub) network(i key.Index) *memNetwork {
	return &memNetwork{hub: h, index: i}
}

func (m *memNetwork) Send(msg *Message, r net.Recipient) {
	buff, err := m.hub.codec.Marshal(msg)
	if err != nil {
		panic(err)
	}
	for i, inbox := range m.hub.inboxes {
		if key.Index(i) == m.index || (!r.All && key.Index(i) != r.Index) {
			continue
		}
		select {
		case inbox <- buff:
		default:
		}
	}
}

func (m *memNetwork) Next(ctx context.Context) (*Message, bool) {
	select {
	case buff := <-m.hub.inboxes[m.index]:
		msg := new(Message)
		if err := m.hub.codec.Unmarshal(buff, msg); err != nil {
			return nil, false
		}
		return msg, true
	case <-ctx.Done():
		return nil, false
	}
}

// recordingNetwork keeps every sent message and never receives.
type recordingNetwork struct {
	sync.Mutex
	sent []*Message
	to   []net.Recipient
}

func (r *recordingNetwork) Send(msg *Message, to net.Recipient) {
	r.Lock()
	defer r.Unlock()
	r.sent = append(r.sent, msg)
	r.to = append(r.to, to)
}

func (r *recordingNetwork) Next(ctx context.Context) (*Message, bool) {
	<-ctx.Done()
	return nil, false
}

func (r *recordingNetwork) reset() {
	r.Lock()
	defer r.Unlock()
	r.sent = nil
	r.to = nil
}

type testSpawner struct {
	ctx context.Context
	wg  sync.WaitGroup
}

func (s *testSpawner) Spawn(_ string, task func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = task(s.ctx)
	}()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

type node struct {
	engine *Engine
	feed   *data.Feed
	sink   *data.Sink
	saver  *bytes.Buffer
}

func newNode(t *testing.T, n int, i key.Index, items string, network Network, loader []byte) *node {
	l := testlogger.New(t)
	conf := DefaultConfig(n, i)
	conf.TickPeriod = 20 * time.Millisecond
	feed := data.NewStringFeed(l, i, items)
	sink := data.NewSink(l)
	saver := new(bytes.Buffer)
	e, err := New(l, conf, crypto.NewPlainKeychain(n, i), network, LocalIO{
		Data:         feed,
		Finalization: sink,
		Saver:        saver,
		Loader:       bytes.NewReader(loader),
	})
	require.NoError(t, err)
	return &node{engine: e, feed: feed, sink: sink, saver: saver}
}

func collect(t *testing.T, sink *data.Sink, n int) []data.Item {
	var items []data.Item
	timeout := time.After(10 * time.Second)
	for len(items) < n {
		select {
		case item := <-sink.Items():
			items = append(items, item)
		case <-timeout:
			t.Fatalf("only %d out of %d items finalized", len(items), n)
		}
	}
	return items
}

func run(ctx context.Context, e *Engine) (*testSpawner, chan error) {
	spawner := &testSpawner{ctx: ctx}
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, spawner)
	}()
	return spawner, done
}

func stop(t *testing.T, cancel context.CancelFunc, spawner *testSpawner, done chan error) {
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not exit")
	}
	spawner.wg.Wait()
}

func TestThreeParticipants(t *testing.T) {
	const n = 3
	h := newHub(t, n)
	feeds := []string{"ab", "cd", "ef"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var nodes []*node
	for i := 0; i < n; i++ {
		nodes = append(nodes, newNode(t, n, key.Index(i), feeds[i], h.network(key.Index(i)), nil))
	}
	var spawners []*testSpawner
	var dones []chan error
	for _, nd := range nodes {
		s, d := run(ctx, nd.engine)
		spawners = append(spawners, s)
		dones = append(dones, d)
	}

	for _, nd := range nodes {
		items := collect(t, nd.sink, 6)
		perOrigin := make(map[key.Index]string)
		for _, item := range items {
			perOrigin[item.Origin] += string(item.Payload)
		}
		require.Equal(t, map[key.Index]string{0: "ab", 1: "cd", 2: "ef"}, perOrigin)
	}

	for i := range nodes {
		stop(t, cancel, spawners[i], dones[i])
	}
}

func TestSingleParticipant(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nd := newNode(t, 1, 0, "xyz", &recordingNetwork{}, nil)
	s, done := run(ctx, nd.engine)

	items := collect(t, nd.sink, 3)
	var got string
	for _, item := range items {
		require.Equal(t, key.Index(0), item.Origin)
		got += string(item.Payload)
	}
	require.Equal(t, "xyz", got)
	stop(t, cancel, s, done)
}

func TestReplay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := newNode(t, 1, 0, "ab", &recordingNetwork{}, nil)
	s, done := run(ctx, first.engine)
	collect(t, first.sink, 2)
	stop(t, cancel, s, done)
	saved := first.saver.Bytes()
	require.NotEmpty(t, saved)

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	second := newNode(t, 1, 0, "abc", &recordingNetwork{}, saved)
	s, done = run(ctx, second.engine)
	items := collect(t, second.sink, 3)
	stop(t, cancel, s, done)

	var got string
	for _, item := range items {
		got += string(item.Payload)
	}
	require.Equal(t, "abc", got)
	require.Equal(t, 3, second.feed.Position())
	require.Len(t, second.engine.own, 3)

	// only the new unit was appended: one creation and one certification
	codec, err := net.NewCodec()
	require.NoError(t, err)
	dec := codec.NewDecoder(bytes.NewReader(second.saver.Bytes()))
	var records []record
	for {
		var r record
		if err := dec.Decode(&r); err != nil {
			break
		}
		records = append(records, r)
	}
	require.Len(t, records, 2)
	require.Equal(t, uint64(2), records[0].Unit.Round)
}

func TestTruncatedBackup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := newNode(t, 1, 0, "ab", &recordingNetwork{}, nil)
	s, done := run(ctx, first.engine)
	collect(t, first.sink, 2)
	stop(t, cancel, s, done)
	saved := first.saver.Bytes()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	second := newNode(t, 1, 0, "ab", &recordingNetwork{}, saved[:len(saved)-1])
	err := second.engine.Run(ctx, &testSpawner{ctx: ctx})
	require.ErrorIs(t, err, ErrCorruptBackup)
	require.Empty(t, second.saver.Bytes())

	// a record header with nothing behind it
	third := newNode(t, 1, 0, "ab", &recordingNetwork{}, []byte{0x83, 0x01})
	err = third.engine.Run(ctx, &testSpawner{ctx: ctx})
	require.ErrorIs(t, err, ErrCorruptBackup)
	require.Empty(t, third.saver.Bytes())
}

func TestAppendFailure(t *testing.T) {
	l := testlogger.New(t)
	e, err := New(l, DefaultConfig(1, 0), crypto.NewPlainKeychain(1, 0), &recordingNetwork{}, LocalIO{
		Data:         data.NewStringFeed(l, 0, "a"),
		Finalization: data.NewSink(l),
		Saver:        failingWriter{},
		Loader:       bytes.NewReader(nil),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err = e.Run(ctx, &testSpawner{ctx: ctx})
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
	require.ErrorIs(t, e.Run(ctx, &testSpawner{ctx: ctx}), ErrAlreadyRun)
}

func TestVotesAndCertificates(t *testing.T) {
	const n = 4
	network := &recordingNetwork{}
	nd := newNode(t, n, 0, "", network, nil)
	e := nd.engine
	ctx := context.Background()
	peer := crypto.NewPlainKeychain(n, 1)

	unit := &Unit{Creator: 1, Round: 0, Item: data.Item{Origin: 1, Payload: []byte("p")}}
	digest, err := e.digest(unit)
	require.NoError(t, err)

	forged, err := crypto.NewPlainKeychain(n, 2).Sign(digest)
	require.NoError(t, err)
	require.NoError(t, e.handle(ctx, &Message{Kind: KindProposal, Creator: 1, Unit: unit, Sig: forged}))
	require.Empty(t, network.sent)

	sig, err := peer.Sign(digest)
	require.NoError(t, err)
	require.NoError(t, e.handle(ctx, &Message{Kind: KindProposal, Creator: 1, Unit: unit, Sig: sig}))
	require.Len(t, network.sent, 1)
	require.Equal(t, KindVote, network.sent[0].Kind)
	require.Equal(t, net.ToNode(1), network.to[0])
	vote := network.sent[0].Sig

	// a repeated proposal is answered with the cached vote
	require.NoError(t, e.handle(ctx, &Message{Kind: KindProposal, Creator: 1, Unit: unit, Sig: sig}))
	require.Len(t, network.sent, 2)
	require.Equal(t, vote, network.sent[1].Sig)
	network.reset()

	// two signers out of four is below quorum
	multi := peer.BootstrapMulti(sig, 1).Add(vote, 0)
	require.NoError(t, e.handle(ctx, &Message{Kind: KindCertificate, Creator: 1, Unit: unit, Multi: multi}))
	require.Zero(t, nd.sink.Len())
	select {
	case <-nd.sink.Items():
		t.Fatal("incomplete certificate finalized an item")
	case <-time.After(50 * time.Millisecond):
	}

	third, err := crypto.NewPlainKeychain(n, 3).Sign(digest)
	require.NoError(t, err)
	multi.Add(third, 3)
	require.NoError(t, e.handle(ctx, &Message{Kind: KindCertificate, Creator: 1, Unit: unit, Multi: multi}))
	items := collect(t, nd.sink, 1)
	require.Equal(t, []byte("p"), items[0].Payload)

	// duplicates are not finalized twice
	require.NoError(t, e.handle(ctx, &Message{Kind: KindCertificate, Creator: 1, Unit: unit, Multi: multi}))
	select {
	case <-nd.sink.Items():
		t.Fatal("duplicate certificate finalized an item")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOutOfOrderCertificates(t *testing.T) {
	nd := newNode(t, 2, 0, "", &recordingNetwork{}, nil)
	e := nd.engine

	certify := func(round uint64, payload string) *Message {
		unit := &Unit{Creator: 1, Round: round, Item: data.Item{Origin: 1, Payload: []byte(payload)}}
		digest, err := e.digest(unit)
		require.NoError(t, err)
		multi := crypto.NewSignatureSet(2)
		for i := 0; i < 2; i++ {
			sig, err := crypto.NewPlainKeychain(2, key.Index(i)).Sign(digest)
			require.NoError(t, err)
			multi.Add(sig, key.Index(i))
		}
		return &Message{Kind: KindCertificate, Creator: 1, Round: round, Unit: unit, Multi: multi}
	}

	ctx := context.Background()
	require.NoError(t, e.handle(ctx, certify(1, "second")))
	require.NoError(t, e.handle(ctx, certify(0, "first")))

	items := collect(t, nd.sink, 2)
	require.Equal(t, "first", string(items[0].Payload))
	require.Equal(t, "second", string(items[1].Payload))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig(1, 0).Validate())
	require.NoError(t, DefaultConfig(4, 3).Validate())
	require.Error(t, DefaultConfig(4, 4).Validate())
	require.Error(t, DefaultConfig(0, 0).Validate())

	c := DefaultConfig(4, 0)
	c.Quorum = 2
	require.Error(t, c.Validate())

	l := testlogger.New(t)
	_, err := New(l, DefaultConfig(4, 0), crypto.NewPlainKeychain(3, 0), &recordingNetwork{}, LocalIO{
		Data:         data.NewStringFeed(l, 0, "a"),
		Finalization: data.NewSink(l),
		Saver:        new(bytes.Buffer),
		Loader:       bytes.NewReader(nil),
	})
	require.Error(t, err)
}
