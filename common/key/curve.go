package key

import (
	bls "github.com/drand/kyber-bls12381"

	// The aggregation in this package is vulnerable to rogue public-key
	// attacks. We only produce and verify individual signatures.
	//nolint:staticcheck
	sign "github.com/drand/kyber/sign/bls"
)

// Pairing is the pairing suite backing participant identities.
var Pairing = bls.NewBLS12381Suite()

// KeyGroup is the group used to create the keys
var KeyGroup = Pairing.G1()

// SigGroup is the group used to create the signatures; it must always be
// different than KeyGroup.
var SigGroup = Pairing.G2()

// AuthScheme is the signature scheme used to authenticate protocol messages.
var AuthScheme = sign.NewSchemeOnG2(Pairing)
