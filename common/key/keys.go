package key

import (
	"encoding"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"
)

// Pair is a wrapper around a random scalar and the corresponding public
// identity of a participant.
type Pair struct {
	Key    kyber.Scalar
	Public *Identity
}

// Identity holds the public part of a participant: its index, the endpoint
// its datagrams are sent to and its public key. Key may be nil when the
// session runs without real signatures.
type Identity struct {
	Index Index
	Addr  string
	Key   kyber.Point
}

// Address returns the network endpoint of the participant.
func (i *Identity) Address() string {
	return i.Addr
}

func (i *Identity) String() string {
	if i.Key == nil {
		return fmt.Sprintf("{%d - %s}", i.Index, i.Addr)
	}
	return fmt.Sprintf("{%d - %s - %s}", i.Index, i.Addr, toHex(i.Key))
}

// Equal returns true if both identities share index, address and key.
func (i *Identity) Equal(i2 *Identity) bool {
	if i.Index != i2.Index || i.Addr != i2.Addr {
		return false
	}
	if i.Key == nil || i2.Key == nil {
		return i.Key == nil && i2.Key == nil
	}
	return i.Key.Equal(i2.Key)
}

// NewKeyPair returns a freshly created private / public key pair for the
// participant at the given index.
func NewKeyPair(index Index, address string) *Pair {
	priv, pub := AuthScheme.NewKeyPair(random.New())
	return &Pair{
		Key: priv,
		Public: &Identity{
			Index: index,
			Addr:  address,
			Key:   pub,
		},
	}
}

// PairTOML is the TOML-able version of a private key
type PairTOML struct {
	Key string
}

// PublicTOML is the TOML-able version of a public key
type PublicTOML struct {
	Index   uint32
	Address string
	Key     string `toml:",omitempty"`
}

// TOML returns a struct that can be marshalled using a TOML-encoding library
func (p *Pair) TOML() interface{} {
	return &PairTOML{toHex(p.Key)}
}

// FromTOML constructs the private key from an unmarshalled structure from TOML
func (p *Pair) FromTOML(i interface{}) error {
	ptoml, ok := i.(*PairTOML)
	if !ok {
		return errors.New("private can't decode toml from non PairTOML struct")
	}
	p.Key = KeyGroup.Scalar()
	if err := fromHex(ptoml.Key, p.Key); err != nil {
		return fmt.Errorf("decoding private key: %w", err)
	}
	p.Public = new(Identity)
	return nil
}

// TOMLValue returns an empty TOML-compatible interface value
func (p *Pair) TOMLValue() interface{} {
	return &PairTOML{}
}

// FromTOML loads the TOML description of the public identity
func (i *Identity) FromTOML(t interface{}) error {
	ptoml, ok := t.(*PublicTOML)
	if !ok {
		return errors.New("public can't decode from non PublicTOML struct")
	}
	i.Index = Index(ptoml.Index)
	i.Addr = ptoml.Address
	i.Key = nil
	if ptoml.Key == "" {
		return nil
	}
	i.Key = KeyGroup.Point()
	if err := fromHex(ptoml.Key, i.Key); err != nil {
		return fmt.Errorf("decoding public key of %d: %w", ptoml.Index, err)
	}
	return nil
}

// TOML returns a TOML-compatible version of the public identity
func (i *Identity) TOML() interface{} {
	t := &PublicTOML{
		Index:   uint32(i.Index),
		Address: i.Addr,
	}
	if i.Key != nil {
		t.Key = toHex(i.Key)
	}
	return t
}

// TOMLValue returns an empty TOML-compatible value of the identity
func (i *Identity) TOMLValue() interface{} {
	return &PublicTOML{}
}

// Keys are written hex encoded in TOML files.
func toHex(m encoding.BinaryMarshaler) string {
	buff, _ := m.MarshalBinary()
	return hex.EncodeToString(buff)
}

func fromHex(s string, u encoding.BinaryUnmarshaler) error {
	buff, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	return u.UnmarshalBinary(buff)
}
