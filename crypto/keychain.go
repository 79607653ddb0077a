package crypto

import (
	"github.com/drand/ordering/common/key"
)

// Keychain signs messages on behalf of the local participant and verifies
// signatures of any participant.
type Keychain interface {
	// Index of the local participant.
	Index() key.Index
	// NodeCount is the number of participants of the session.
	NodeCount() int
	Sign(msg []byte) (*Signature, error)
	// Verify reports whether sig is a valid signature of msg by the
	// participant at index.
	Verify(msg []byte, sig *Signature, index key.Index) bool
}

// MultiKeychain aggregates individual signatures into multisignatures and
// decides when one is backed by a quorum.
type MultiKeychain interface {
	Keychain
	BootstrapMulti(sig *Signature, index key.Index) *SignatureSet
	IsComplete(msg []byte, set *SignatureSet) bool
}

// bootstrapMulti creates a set sized for the keychain's session holding sig.
func bootstrapMulti(kc Keychain, sig *Signature, index key.Index) *SignatureSet {
	return NewSignatureSet(kc.NodeCount()).Add(sig, index)
}

// isComplete implements the quorum rule shared by every keychain: at least
// Quorum(n) occupied slots, each holding a valid signature of msg by its own
// slot index. Validity is only checked once the count is reached.
func isComplete(kc Keychain, msg []byte, set *SignatureSet) bool {
	if set == nil || set.Size() != kc.NodeCount() {
		return false
	}
	if set.Count() < key.Quorum(kc.NodeCount()) {
		return false
	}
	return set.Each(func(i key.Index, sig *Signature) bool {
		return kc.Verify(msg, sig, i)
	})
}
