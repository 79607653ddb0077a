package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/drand/ordering/crypto"
)

// ErrCorruptBackup is returned by Run when the recovery stream cannot be
// replayed, for instance because its last record was cut short.
var ErrCorruptBackup = errors.New("engine: corrupt backup")

type recordKind uint8

const (
	// recordCreated is written when an own unit is created, before it is sent.
	recordCreated recordKind = iota + 1
	// recordCertified is written when a unit is first seen certified.
	recordCertified
)

type record struct {
	_     struct{} `cbor:",toarray"`
	Kind  recordKind
	Unit  *Unit
	Multi *crypto.SignatureSet
}

func (e *Engine) persist(r *record) error {
	buff, err := e.codec.Marshal(r)
	if err != nil {
		return fmt.Errorf("engine: encoding backup record: %w", err)
	}
	if _, err := e.io.Saver.Write(buff); err != nil {
		return fmt.Errorf("engine: appending backup record: %w", err)
	}
	return nil
}

// replay restores the state saved by previous runs and finalizes again every
// unit that was certified.
func (e *Engine) replay() error {
	buff, err := io.ReadAll(e.io.Loader)
	if err != nil {
		return fmt.Errorf("engine: reading backup: %w", err)
	}
	dec := e.codec.NewDecoder(bytes.NewReader(buff))
	var created, certified int
	for {
		var r record
		err := dec.Decode(&r)
		if errors.Is(err, io.EOF) {
			// the decoder also reports a record cut short as io.EOF
			if dec.NumBytesRead() != len(buff) {
				return fmt.Errorf("%w: record %d cut short, %d trailing bytes", ErrCorruptBackup, created+certified, len(buff)-dec.NumBytesRead())
			}
			break
		}
		if err != nil {
			return fmt.Errorf("%w: record %d: %v", ErrCorruptBackup, created+certified, err)
		}
		if !e.wellFormed(r.Unit) {
			return fmt.Errorf("%w: malformed unit in record %d", ErrCorruptBackup, created+certified)
		}

		switch r.Kind {
		case recordCreated:
			if r.Unit.Creator != e.conf.Index || r.Unit.Round != uint64(len(e.own)) {
				return fmt.Errorf("%w: unexpected own unit %d/%d", ErrCorruptBackup, r.Unit.Creator, r.Unit.Round)
			}
			if _, err := e.addOwn(r.Unit); err != nil {
				return err
			}
			created++
		case recordCertified:
			if r.Unit.Creator == e.conf.Index {
				if r.Unit.Round >= uint64(len(e.own)) {
					return fmt.Errorf("%w: certificate for unknown own unit %d", ErrCorruptBackup, r.Unit.Round)
				}
				o := e.own[r.Unit.Round]
				o.done = true
				o.multi = r.Multi
			}
			if r.Unit.Round >= e.next[r.Unit.Creator] {
				e.accept(r.Unit)
			}
			certified++
		default:
			return fmt.Errorf("%w: unknown record kind %d", ErrCorruptBackup, r.Kind)
		}
	}
	if created+certified > 0 {
		e.log.Infow("backup replayed", "own_units", created, "certified", certified)
	}
	return nil
}
