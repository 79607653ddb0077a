package key

import (
	"errors"
	"fmt"
	"sort"
)

// Group is the fixed set of participants of a session, ordered by index.
type Group struct {
	Nodes []*Identity
}

// GroupTOML is the representation of a Group TOML compatible
type GroupTOML struct {
	Nodes []*PublicTOML
}

// DefaultBasePort is the port of participant 0 when no group file is given;
// participant i listens on DefaultBasePort+i.
const DefaultBasePort = 9900

// DefaultAddress returns the loopback endpoint of participant i.
func DefaultAddress(basePort int, i Index) string {
	return fmt.Sprintf("127.0.0.1:%d", basePort+int(i))
}

// NewDefaultGroup builds a group of n participants on the loopback interface
// at basePort+i, without public keys. A non positive n gives an empty group,
// which Validate rejects.
func NewDefaultGroup(n, basePort int) *Group {
	if n < 0 {
		n = 0
	}
	g := &Group{Nodes: make([]*Identity, n)}
	for i := 0; i < n; i++ {
		g.Nodes[i] = &Identity{Index: Index(i), Addr: DefaultAddress(basePort, Index(i))}
	}
	return g
}

// Len returns the number of participants in the group.
func (g *Group) Len() int {
	return len(g.Nodes)
}

// Node returns the participant at the given index or nil.
func (g *Group) Node(i Index) *Identity {
	for _, n := range g.Nodes {
		if n.Index == i {
			return n
		}
	}
	return nil
}

// HasKeys reports whether every participant carries a public key.
func (g *Group) HasKeys() bool {
	for _, n := range g.Nodes {
		if n.Key == nil {
			return false
		}
	}
	return len(g.Nodes) > 0
}

// Validate checks that indices are unique and cover [0, Len()).
func (g *Group) Validate() error {
	if len(g.Nodes) == 0 {
		return errors.New("group has no participant")
	}
	seen := make(map[Index]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if !n.Index.Valid(len(g.Nodes)) {
			return fmt.Errorf("participant index %d out of range for %d participants", n.Index, len(g.Nodes))
		}
		if seen[n.Index] {
			return fmt.Errorf("participant index %d appears twice", n.Index)
		}
		seen[n.Index] = true
	}
	return nil
}

// FromTOML fills the group from its TOML representation.
func (g *Group) FromTOML(i interface{}) error {
	gt, ok := i.(*GroupTOML)
	if !ok {
		return errors.New("grouptoml unknown")
	}
	g.Nodes = make([]*Identity, len(gt.Nodes))
	for i, ptoml := range gt.Nodes {
		g.Nodes[i] = new(Identity)
		if err := g.Nodes[i].FromTOML(ptoml); err != nil {
			return fmt.Errorf("group: unwrapping node[%d]: %w", i, err)
		}
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].Index < g.Nodes[j].Index })
	return g.Validate()
}

// TOML returns a TOML-encodable version of the Group
func (g *Group) TOML() interface{} {
	gtoml := &GroupTOML{Nodes: make([]*PublicTOML, g.Len())}
	for i, n := range g.Nodes {
		gtoml.Nodes[i] = n.TOML().(*PublicTOML)
	}
	return gtoml
}

// TOMLValue returns an empty TOML-compatible value of the group
func (g *Group) TOMLValue() interface{} {
	return &GroupTOML{}
}
