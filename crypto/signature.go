// Package crypto authenticates protocol messages and aggregates individual
// signatures into quorum multisignatures.
package crypto

import (
	"github.com/drand/ordering/common/key"
)

// Signature is an authenticity tag produced by the participant Signer. The
// meaning of Data depends on the keychain that produced it.
type Signature struct {
	_      struct{} `cbor:",toarray"`
	Signer key.Index
	Data   []byte
}

// Index returns the index of the participant that produced the signature.
func (s *Signature) Index() key.Index {
	return s.Signer
}

// SignatureSet is a partial multisignature: a fixed capacity collection of
// signatures keyed by signer index, with at most one signature per index.
type SignatureSet struct {
	_    struct{} `cbor:",toarray"`
	Sigs []*Signature
}

// NewSignatureSet returns an empty set able to hold one signature for each of
// n participants.
func NewSignatureSet(n int) *SignatureSet {
	return &SignatureSet{Sigs: make([]*Signature, n)}
}

// Size returns the capacity of the set.
func (s *SignatureSet) Size() int {
	return len(s.Sigs)
}

// Add stores sig in the slot of index and returns the set. A slot that
// already holds a signature and an index beyond capacity are left untouched.
func (s *SignatureSet) Add(sig *Signature, index key.Index) *SignatureSet {
	if sig == nil || !index.Valid(len(s.Sigs)) || s.Sigs[index] != nil {
		return s
	}
	s.Sigs[index] = sig
	return s
}

// Get returns the signature stored for index, or nil.
func (s *SignatureSet) Get(index key.Index) *Signature {
	if !index.Valid(len(s.Sigs)) {
		return nil
	}
	return s.Sigs[index]
}

// Count returns the number of occupied slots.
func (s *SignatureSet) Count() int {
	var c int
	for _, sig := range s.Sigs {
		if sig != nil {
			c++
		}
	}
	return c
}

// Each calls fn for every occupied slot in index order, stopping at the first
// call returning false. It reports whether all calls returned true.
func (s *SignatureSet) Each(fn func(key.Index, *Signature) bool) bool {
	for i, sig := range s.Sigs {
		if sig == nil {
			continue
		}
		if !fn(key.Index(i), sig) {
			return false
		}
	}
	return true
}

// Merge adds every signature of other into s and returns s.
func (s *SignatureSet) Merge(other *SignatureSet) *SignatureSet {
	if other == nil {
		return s
	}
	other.Each(func(i key.Index, sig *Signature) bool {
		s.Add(sig, i)
		return true
	})
	return s
}
