// Package ledger journals the items a participant saw finalized, in the
// order they were delivered, in a bolt database next to the recovery log.
package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	json "github.com/nikkolasg/hexjson"
	bolt "go.etcd.io/bbolt"

	"github.com/drand/ordering/common/key"
	"github.com/drand/ordering/common/log"
	"github.com/drand/ordering/internal/data"
	"github.com/drand/ordering/internal/fs"
)

const fileExtension = ".db"

// OpenPerm is the permission of the ledger file.
const OpenPerm = 0660

var finalizedBucket = []byte("finalized")

// ErrNoLedger is returned when opening a ledger read-only that does not
// exist.
var ErrNoLedger = errors.New("ledger: no ledger found")

// Entry is one journaled finalized item.
type Entry struct {
	Seq     uint64    `json:"seq"`
	Session string    `json:"session"`
	Origin  key.Index `json:"origin"`
	Payload []byte    `json:"payload"`
	Time    int64     `json:"time"`
}

// Ledger is the journal of one participant.
//
//nolint:gocritic // the mutex guards the closed db handle
type Ledger struct {
	sync.Mutex
	db  *bolt.DB
	log log.Logger
}

// FilePath returns where the ledger of participant index lives under folder.
func FilePath(folder string, index key.Index) string {
	return path.Join(folder, index.String()+fileExtension)
}

// Open opens, or creates, the ledger of participant index under folder.
func Open(ctx context.Context, l log.Logger, folder string, index key.Index, opts *bolt.Options) (*Ledger, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	dbPath := FilePath(folder, index)
	if opts != nil && opts.ReadOnly {
		exists, err := fs.Exists(dbPath)
		if err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w at %s", ErrNoLedger, dbPath)
		}
	} else if _, err := fs.CreateSecureFolder(folder); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	db, err := bolt.Open(dbPath, OpenPerm, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening %s: %w", dbPath, err)
	}
	if opts == nil || !opts.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(finalizedBucket)
			return err
		})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	l.Debugw("ledger opened", "path", dbPath)
	return &Ledger{db: db, log: l}, nil
}

// Append journals item under the next sequence number and returns it.
func (lg *Ledger) Append(ctx context.Context, session string, item data.Item) (uint64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	lg.Lock()
	defer lg.Unlock()
	var seq uint64
	err := lg.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(finalizedBucket)
		var err error
		seq, err = bucket.NextSequence()
		if err != nil {
			return err
		}
		value, err := json.Marshal(&Entry{
			Seq:     seq,
			Session: session,
			Origin:  item.Origin,
			Payload: item.Payload,
			Time:    time.Now().Unix(),
		})
		if err != nil {
			return err
		}
		return bucket.Put(seqToBytes(seq), value)
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: append: %w", err)
	}
	return seq, nil
}

// Len returns the number of journaled items.
func (lg *Ledger) Len(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	var length int
	err := lg.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(finalizedBucket)
		if bucket == nil {
			return nil
		}
		length = bucket.Stats().KeyN
		return nil
	})
	return length, err
}

// Each calls fn on every entry in sequence order until fn returns an error.
func (lg *Ledger) Each(ctx context.Context, fn func(*Entry) error) error {
	return lg.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(finalizedBucket)
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			e := new(Entry)
			if err := json.Unmarshal(v, e); err != nil {
				return fmt.Errorf("ledger: entry %d: %w", bytesToSeq(k), err)
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database.
func (lg *Ledger) Close() error {
	lg.Lock()
	defer lg.Unlock()
	err := lg.db.Close()
	if err != nil {
		lg.log.Errorw("closing ledger", "err", err)
	}
	return err
}

func seqToBytes(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return buf[:]
}

func bytesToSeq(buf []byte) uint64 {
	if len(buf) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(buf)
}
