package raft

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// Role distinguishes a voting replica from a non-voting witness peer.
type Role int

// Peer roles, mirrored from the original's Role enum.
const (
	RoleReplica Role = iota
	RoleWitness
)

func (r Role) String() string {
	if r == RoleWitness {
		return "witness"
	}
	return "replica"
}

// peerAddrKind picks which of the two mutually exclusive address forms a
// PeerId carries: a numeric endpoint (ip:port) or a hostname:port pair that
// must be resolved (and may load-balance across several A/AAAA records).
type peerAddrKind int

const (
	addrEndpoint peerAddrKind = iota
	addrHostname
)

// DefaultZone is used for PreferZone/CurrentZone when the wire form omits
// the zone fields.
const DefaultZone = ""

// PeerId identifies one member of a replication group: an address (endpoint
// or hostname), a replica index disambiguating multiple processes sharing
// one address, a role, and optional zone hints used for read-preference
// routing. Equality and ordering only consider the address and index — role
// and zone are metadata, not identity, exactly as the original's
// operator==/operator< treat them.
type PeerId struct {
	kind        peerAddrKind
	ip          string
	hostname    string
	port        int
	Idx         int
	Role        Role
	PreferZone  string
	CurrentZone string
}

// NewEndpointPeerId builds a PeerId addressed by a numeric IP.
func NewEndpointPeerId(ip string, port int, idx int) PeerId {
	return PeerId{kind: addrEndpoint, ip: ip, port: port, Idx: idx}
}

// NewHostnamePeerId builds a PeerId addressed by a hostname requiring
// resolution.
func NewHostnamePeerId(hostname string, port int, idx int) PeerId {
	return PeerId{kind: addrHostname, hostname: hostname, port: port, Idx: idx}
}

// IsHostname reports whether this PeerId must be resolved via DNS rather
// than dialed directly.
func (p PeerId) IsHostname() bool { return p.kind == addrHostname }

// Address returns the address component (IP or hostname) without the port.
func (p PeerId) Address() string {
	if p.kind == addrHostname {
		return p.hostname
	}
	return p.ip
}

// Port returns the port component.
func (p PeerId) Port() int { return p.port }

// addrString renders "address:port", the same substring the original gets
// out of butil::endpoint2str / the raw hostname:port pair.
func (p PeerId) addrString() string {
	return fmt.Sprintf("%s:%d", p.Address(), p.port)
}

// ParsePeerId parses the wire form used throughout spec.md §6: either
// "addr:port:idx:role" (3 colons) or, when zone hints are present,
// "addr:port:idx:prefer_zone:current_zone:role" (5 colons). Which form
// applies is decided purely by counting colons in the whole string — not by
// attempting one form and falling back on error — exactly as
// configuration.h's PeerId::parse does.
func ParsePeerId(s string) (PeerId, error) {
	if s == "" {
		return PeerId{}, ErrInvalid
	}
	parts := strings.Split(s, ":")
	colons := strings.Count(s, ":")

	var (
		address            string
		port               int
		idx                int
		role               = RoleReplica
		preferZone         = DefaultZone
		currentZone        = DefaultZone
		err                error
	)

	if colons < 4 {
		if len(parts) < 2 {
			return PeerId{}, ErrInvalid
		}
		address = parts[0]
		if port, err = strconv.Atoi(parts[1]); err != nil {
			return PeerId{}, ErrInvalid
		}
		if len(parts) >= 3 && parts[2] != "" {
			if idx, err = strconv.Atoi(parts[2]); err != nil {
				return PeerId{}, ErrInvalid
			}
		}
		if len(parts) >= 4 {
			v, err2 := strconv.Atoi(parts[3])
			if err2 != nil {
				return PeerId{}, ErrInvalid
			}
			role = Role(v)
		}
	} else {
		if len(parts) < 6 {
			return PeerId{}, ErrInvalid
		}
		address = parts[0]
		if port, err = strconv.Atoi(parts[1]); err != nil {
			return PeerId{}, ErrInvalid
		}
		if idx, err = strconv.Atoi(parts[2]); err != nil {
			return PeerId{}, ErrInvalid
		}
		preferZone = parts[3]
		currentZone = parts[4]
		v, err2 := strconv.Atoi(parts[5])
		if err2 != nil {
			return PeerId{}, ErrInvalid
		}
		role = Role(v)
	}

	if role != RoleReplica && role != RoleWitness {
		return PeerId{}, ErrInvalid
	}

	p := PeerId{Idx: idx, Role: role, PreferZone: preferZone, CurrentZone: currentZone, port: port}
	if net.ParseIP(address) != nil {
		p.kind = addrEndpoint
		p.ip = address
	} else {
		p.kind = addrHostname
		p.hostname = address
	}
	return p, nil
}

// String renders the wire form, round-tripping through ParsePeerId. Zone
// hints are only emitted when at least one is non-default, matching the
// original's to_string which always writes them if present at all (the
// original never mixes default/zoned peers within one configuration, so
// this module does the same: either both zones are empty or both are set).
func (p PeerId) String() string {
	if p.PreferZone == DefaultZone && p.CurrentZone == DefaultZone {
		return fmt.Sprintf("%s:%d:%d:%d", p.Address(), p.port, p.Idx, int(p.Role))
	}
	return fmt.Sprintf("%s:%d:%d:%s:%s:%d", p.Address(), p.port, p.Idx, p.PreferZone, p.CurrentZone, int(p.Role))
}

// key is the identity used for equality, ordering within a variant, and as
// a Configuration map key: address, port and index, ignoring role and zone.
func (p PeerId) key() string {
	return fmt.Sprintf("%d|%s|%d|%d", p.kind, p.Address(), p.port, p.Idx)
}

// Equal reports identity equality: same address kind, same address, same
// port, same index. Role and zone hints are deliberately excluded, matching
// the original's operator==.
func (p PeerId) Equal(o PeerId) bool {
	return p.key() == o.key()
}

// Less provides the same-ish ordering the original's operator< does:
// same-kind peers compare by (address, port, idx); peers of different kinds
// (one endpoint, one hostname) fall back to comparing their own string
// forms. That fallback is not a well-defined strict weak ordering across
// variants — two mixed-kind slices sorted independently are not guaranteed
// to interleave consistently — but it is exactly what the original does, so
// it is preserved here rather than silently "fixed" into a real total
// order (see spec.md §9 Open Questions).
func (p PeerId) Less(o PeerId) bool {
	if p.kind == o.kind {
		if p.Address() != o.Address() {
			return p.Address() < o.Address()
		}
		if p.port != o.port {
			return p.port < o.port
		}
		return p.Idx < o.Idx
	}
	return p.String() < o.String()
}

// IsEmpty reports whether this is the zero PeerId (unset address, port 0).
func (p PeerId) IsEmpty() bool {
	return p.Address() == "" && p.port == 0
}

// IsWitness reports whether this peer is a non-voting witness, a property
// of the peer itself (configuration.h's PeerId::is_witness), independent of
// whatever node the local process happens to be running.
func (p PeerId) IsWitness() bool {
	return p.Role == RoleWitness
}

// Configuration is an unordered set of peers, keyed by PeerId identity.
type Configuration struct {
	peers map[string]PeerId
}

// NewConfiguration builds a Configuration from a peer list, deduplicating
// by identity.
func NewConfiguration(peers ...PeerId) Configuration {
	c := Configuration{peers: make(map[string]PeerId, len(peers))}
	for _, p := range peers {
		c.peers[p.key()] = p
	}
	return c
}

// Add inserts a peer, overwriting any existing entry with the same
// identity (role/zone may differ; address/port/idx decide identity).
func (c *Configuration) Add(p PeerId) {
	if c.peers == nil {
		c.peers = make(map[string]PeerId)
	}
	c.peers[p.key()] = p
}

// Remove drops a peer by identity. A no-op if absent.
func (c *Configuration) Remove(p PeerId) {
	delete(c.peers, p.key())
}

// Contains reports whether a peer of the same identity is present.
func (c Configuration) Contains(p PeerId) bool {
	_, ok := c.peers[p.key()]
	return ok
}

// Empty reports whether the configuration holds no peers.
func (c Configuration) Empty() bool { return len(c.peers) == 0 }

// Size returns the number of peers.
func (c Configuration) Size() int { return len(c.peers) }

// List returns the peers in a deterministic (sorted) order. Configuration
// itself is unordered, like the original's std::set<PeerId>; List only
// exists so callers get reproducible iteration.
func (c Configuration) List() []PeerId {
	out := make([]PeerId, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Equals reports whether two configurations hold the same peer set
// (by identity).
func (c Configuration) Equals(o Configuration) bool {
	if len(c.peers) != len(o.peers) {
		return false
	}
	for k := range c.peers {
		if _, ok := o.peers[k]; !ok {
			return false
		}
	}
	return true
}

// Diff returns the peers present in c but absent from o ("included" from
// o's perspective), matching Configuration::diff in the original: a
// one-way set difference, c - o.
func (c Configuration) Diff(o Configuration) []PeerId {
	var out []PeerId
	for k, p := range c.peers {
		if _, ok := o.peers[k]; !ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Diffs computes the two-way set difference between c (new) and o (old):
// included is the peers added in c relative to o, excluded is the peers
// dropped. Mirrors Configuration::diffs exactly.
func (c Configuration) Diffs(o Configuration) (included, excluded []PeerId) {
	return c.Diff(o), o.Diff(c)
}
