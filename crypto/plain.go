package crypto

import (
	"bytes"

	"github.com/drand/ordering/common/key"
)

// PlainKeychain tags a message with the signer index and a copy of the
// message. It offers no authenticity at all and only serves sessions where
// every participant is trusted, such as local demonstrations and tests. Use
// BLSKeychain otherwise.
type PlainKeychain struct {
	index key.Index
	count int
}

// NewPlainKeychain returns the keychain of participant index among count.
func NewPlainKeychain(count int, index key.Index) *PlainKeychain {
	return &PlainKeychain{index: index, count: count}
}

func (p *PlainKeychain) Index() key.Index {
	return p.index
}

func (p *PlainKeychain) NodeCount() int {
	return p.count
}

func (p *PlainKeychain) Sign(msg []byte) (*Signature, error) {
	return &Signature{
		Signer: p.index,
		Data:   append([]byte(nil), msg...),
	}, nil
}

func (p *PlainKeychain) Verify(msg []byte, sig *Signature, index key.Index) bool {
	return sig != nil && sig.Signer == index && bytes.Equal(sig.Data, msg)
}

func (p *PlainKeychain) BootstrapMulti(sig *Signature, index key.Index) *SignatureSet {
	return bootstrapMulti(p, sig, index)
}

func (p *PlainKeychain) IsComplete(msg []byte, set *SignatureSet) bool {
	return isComplete(p, msg, set)
}
