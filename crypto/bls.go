package crypto

import (
	"errors"
	"fmt"

	"github.com/drand/kyber"

	"github.com/drand/ordering/common/key"
)

// BLSKeychain signs with the participant's BLS12-381 private key and verifies
// against the public keys of the group.
type BLSKeychain struct {
	index   key.Index
	private kyber.Scalar
	publics []kyber.Point
}

// NewBLSKeychain builds the keychain of pair's participant. Every member of
// group must carry a public key and the pair must match its group entry.
func NewBLSKeychain(pair *key.Pair, group *key.Group) (*BLSKeychain, error) {
	if pair == nil || pair.Key == nil || pair.Public == nil {
		return nil, errors.New("bls keychain: missing private key")
	}
	if err := group.Validate(); err != nil {
		return nil, fmt.Errorf("bls keychain: %w", err)
	}
	if !group.HasKeys() {
		return nil, errors.New("bls keychain: group lacks public keys")
	}
	self := group.Node(pair.Public.Index)
	if self == nil {
		return nil, fmt.Errorf("bls keychain: participant %d not in group", pair.Public.Index)
	}
	if !self.Key.Equal(key.KeyGroup.Point().Mul(pair.Key, nil)) {
		return nil, fmt.Errorf("bls keychain: private key does not match public key of %d", self.Index)
	}
	publics := make([]kyber.Point, group.Len())
	for _, n := range group.Nodes {
		publics[n.Index] = n.Key
	}
	return &BLSKeychain{
		index:   self.Index,
		private: pair.Key,
		publics: publics,
	}, nil
}

func (b *BLSKeychain) Index() key.Index {
	return b.index
}

func (b *BLSKeychain) NodeCount() int {
	return len(b.publics)
}

func (b *BLSKeychain) Sign(msg []byte) (*Signature, error) {
	sig, err := key.AuthScheme.Sign(b.private, msg)
	if err != nil {
		return nil, err
	}
	return &Signature{Signer: b.index, Data: sig}, nil
}

func (b *BLSKeychain) Verify(msg []byte, sig *Signature, index key.Index) bool {
	if sig == nil || sig.Signer != index || !index.Valid(len(b.publics)) {
		return false
	}
	return key.AuthScheme.Verify(b.publics[index], msg, sig.Data) == nil
}

func (b *BLSKeychain) BootstrapMulti(sig *Signature, index key.Index) *SignatureSet {
	return bootstrapMulti(b, sig, index)
}

func (b *BLSKeychain) IsComplete(msg []byte, set *SignatureSet) bool {
	return isComplete(b, msg, set)
}
