package engine

import (
	"fmt"

	"github.com/drand/ordering/common/key"
	"github.com/drand/ordering/crypto"
	"github.com/drand/ordering/internal/data"
)

// Kind tells what a Message carries.
type Kind uint8

const (
	// KindProposal carries a unit and its creator's signature.
	KindProposal Kind = iota + 1
	// KindVote carries a signature over a unit, sent back to its creator.
	KindVote
	// KindCertificate carries a unit and a complete multisignature over it.
	KindCertificate
)

func (k Kind) String() string {
	switch k {
	case KindProposal:
		return "proposal"
	case KindVote:
		return "vote"
	case KindCertificate:
		return "certificate"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Unit is the Round-th item proposed by Creator.
type Unit struct {
	_       struct{} `cbor:",toarray"`
	Creator key.Index
	Round   uint64
	Item    data.Item
}

// Message is the only datagram the engine exchanges. Creator and Round
// identify the unit the message is about; votes carry no unit.
type Message struct {
	_       struct{} `cbor:",toarray"`
	Kind    Kind
	Creator key.Index
	Round   uint64
	Unit    *Unit
	Sig     *crypto.Signature
	Multi   *crypto.SignatureSet
}
