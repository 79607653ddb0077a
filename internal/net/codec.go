package net

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxDatagramSize is the largest encoded message a transport sends or
// accepts.
const MaxDatagramSize = 65536

// Codec encodes protocol messages with the deterministic core CBOR encoding.
// Decoding rejects trailing bytes.
type Codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCodec returns the codec shared by transports and engine state.
func NewCodec() (*Codec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Marshal encodes v.
func (c *Codec) Marshal(v interface{}) ([]byte, error) {
	return c.enc.Marshal(v)
}

// Unmarshal decodes data into v.
func (c *Codec) Unmarshal(data []byte, v interface{}) error {
	return c.dec.Unmarshal(data, v)
}

// NewDecoder returns a decoder reading a stream of concatenated messages
// from r.
func (c *Codec) NewDecoder(r io.Reader) *cbor.Decoder {
	return c.dec.NewDecoder(r)
}
