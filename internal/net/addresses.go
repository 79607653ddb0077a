package net

import (
	"fmt"
	"net"
	"sort"

	"github.com/drand/ordering/common/key"
)

// Addresses maps participant indices to their datagram endpoints. It is
// filled once at startup and only read afterwards, so concurrent lookups need
// no locking.
type Addresses struct {
	addrs map[key.Index]*net.UDPAddr
}

// NewAddresses returns an empty table.
func NewAddresses() *Addresses {
	return &Addresses{addrs: make(map[key.Index]*net.UDPAddr)}
}

// AddressesFromGroup registers the endpoint of every member of the group.
func AddressesFromGroup(g *key.Group) (*Addresses, error) {
	a := NewAddresses()
	for _, n := range g.Nodes {
		if err := a.Add(n.Index, n.Address()); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Add registers the endpoint of participant i, replacing any previous one.
func (a *Addresses) Add(i key.Index, address string) error {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return fmt.Errorf("address of participant %d: %w", i, err)
	}
	a.addrs[i] = addr
	return nil
}

// Get returns the endpoint of participant i.
func (a *Addresses) Get(i key.Index) (*net.UDPAddr, bool) {
	addr, ok := a.addrs[i]
	return addr, ok
}

// Indices returns the registered indices in increasing order.
func (a *Addresses) Indices() []key.Index {
	out := make([]key.Index, 0, len(a.addrs))
	for i := range a.addrs {
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of registered participants.
func (a *Addresses) Len() int {
	return len(a.addrs)
}
