package connection

import "firestige.xyz/flowscope/internal/core"

// MatchMode selects how a pair of criteria fields is compared against a
// connection's side1/side2 values.
type MatchMode uint8

const (
	MatchNone MatchMode = iota
	// MatchDestinationOnly compares only side2.
	MatchDestinationOnly
	MatchBoth
	// MatchBothAllowReverse also accepts the swapped assignment and then
	// reports the packet as coming from the responder.
	MatchBothAllowReverse
	// MatchHostNetwork compares a host-network aggregate's address and
	// network.
	MatchHostNetwork
	// MatchNetworkNetwork compares a network-network aggregate's networks.
	MatchNetworkNetwork
)

// Criteria describes a table search. Zero-valued fields are not matched.
type Criteria struct {
	MatchType bool
	Type      Type

	MatchICMPType bool
	ICMPType      uint8
	MatchICMPID   bool
	ICMPID        uint16

	Addresses    MatchMode
	Side1Address core.Address
	Side2Address core.Address
	Side1Network core.Network
	Side2Network core.Network

	Ports     MatchMode
	Side1Port uint16
	Side2Port uint16

	CIDs     MatchMode
	Side1CID core.QuicConnectionID
	Side2CID core.QuicConnectionID

	// Partial IDs carry the number of bytes actually seen as their length.
	MatchPartialDestinationCID bool
	PartialDestinationCID      core.QuicConnectionID
	MatchPartialSourceCID      bool
	PartialSourceCID           core.QuicConnectionID
}

// direction tracks the packet direction fixed by the fields matched so far.
type direction struct {
	set           bool
	fromResponder bool
}

// fix records dir, failing when an earlier field decided otherwise.
func (d *direction) fix(fromResponder bool) bool {
	if d.set && d.fromResponder != fromResponder {
		return false
	}
	d.set, d.fromResponder = true, fromResponder
	return true
}

// pairMatch applies mode to a side1/side2 pair with eq as the comparison.
func pairMatch[T any](mode MatchMode, d *direction, s1, s2, p1, p2 T, eq func(a, b T) bool) bool {
	switch mode {
	case MatchNone:
		return true
	case MatchDestinationOnly:
		return eq(s2, p2) && d.fix(false)
	case MatchBoth:
		return eq(s1, p1) && eq(s2, p2) && d.fix(false)
	case MatchBothAllowReverse:
		if eq(s1, p1) && eq(s2, p2) && (!d.set || !d.fromResponder) {
			return d.fix(false)
		}
		if eq(s2, p1) && eq(s1, p2) && (!d.set || d.fromResponder) {
			return d.fix(true)
		}
		return false
	default:
		return false
	}
}

func (t *Table) match(c *Connection, cr *Criteria) (fromResponder bool, ok bool) {
	if cr.MatchType && c.typ != cr.Type {
		return false, false
	}
	if cr.MatchICMPType || cr.MatchICMPID {
		p, isICMP := c.Payload.(*ICMP)
		if !isICMP {
			return false, false
		}
		if cr.MatchICMPType && p.PeerType != cr.ICMPType {
			return false, false
		}
		if cr.MatchICMPID && p.PeerID != cr.ICMPID {
			return false, false
		}
	}

	var d direction
	switch cr.Addresses {
	case MatchNone:
	case MatchHostNetwork:
		p, isHN := c.Payload.(*HostNetwork)
		if !isHN || !p.Side1.Equal(cr.Side1Address) || !p.Side2Network.Equal(cr.Side2Network) {
			return false, false
		}
		d.fix(false)
	case MatchNetworkNetwork:
		p, isNN := c.Payload.(*NetworkNetwork)
		if !isNN || !p.Side1Network.Equal(cr.Side1Network) || !p.Side2Network.Equal(cr.Side2Network) {
			return false, false
		}
		d.fix(false)
	default:
		a1, a2 := c.Payload.addresses()
		if a2 == nil || (cr.Addresses != MatchDestinationOnly && a1 == nil) {
			return false, false
		}
		if a1 == nil {
			a1 = &core.Address{}
		}
		if !pairMatch(cr.Addresses, &d, *a1, *a2, cr.Side1Address, cr.Side2Address, core.Address.Equal) {
			return false, false
		}
	}

	if cr.Ports != MatchNone {
		p1, p2 := c.Payload.ports()
		if p2 == 0 || (cr.Ports != MatchDestinationOnly && p1 == 0) {
			return false, false
		}
		eq := func(a, b uint16) bool { return a == b }
		if !pairMatch(cr.Ports, &d, p1, p2, cr.Side1Port, cr.Side2Port, eq) {
			return false, false
		}
	}

	if cr.CIDs != MatchNone || cr.MatchPartialDestinationCID || cr.MatchPartialSourceCID {
		q, isQUIC := c.Payload.(*QUIC)
		if !isQUIC {
			return false, false
		}
		if !pairMatch(cr.CIDs, &d, q.Peer1CID, q.Peer2CID, cr.Side1CID, cr.Side2CID, core.QuicConnectionID.Equal) {
			return false, false
		}
		if cr.MatchPartialDestinationCID && !q.Peer2CID.PrefixMatch(cr.PartialDestinationCID) {
			return false, false
		}
		if cr.MatchPartialSourceCID && !q.Peer1CID.PrefixMatch(cr.PartialSourceCID) {
			return false, false
		}
	}
	return d.fromResponder, true
}

// Search returns the first record in slot order satisfying cr, with the
// packet direction the match implied.
func (t *Table) Search(cr Criteria) (c *Connection, fromResponder bool) {
	for _, c := range t.slots {
		if c == nil {
			continue
		}
		if fr, ok := t.match(c, &cr); ok {
			return c, fr
		}
	}
	return nil, false
}

func fiveTuple(typ Type, mode MatchMode, src, dst core.Address, sport, dport uint16) Criteria {
	return Criteria{
		MatchType:    true,
		Type:         typ,
		Addresses:    mode,
		Side1Address: src,
		Side2Address: dst,
		Ports:        mode,
		Side1Port:    sport,
		Side2Port:    dport,
	}
}

// SearchICMP finds the echo flow started by side1 with the given request
// type and identifier.
func (t *Table) SearchICMP(side1, side2 core.Address, peerType uint8, peerID uint16) *Connection {
	c, _ := t.Search(Criteria{
		MatchType:     true,
		Type:          TypeICMP,
		MatchICMPType: true,
		ICMPType:      peerType,
		MatchICMPID:   true,
		ICMPID:        peerID,
		Addresses:     MatchBoth,
		Side1Address:  side1,
		Side2Address:  side2,
	})
	return c
}

func (t *Table) SearchTCP(src, dst core.Address, sport, dport uint16) *Connection {
	c, _ := t.Search(fiveTuple(TypeTCP, MatchBoth, src, dst, sport, dport))
	return c
}

func (t *Table) SearchTCPEither(src, dst core.Address, sport, dport uint16) (*Connection, bool) {
	return t.Search(fiveTuple(TypeTCP, MatchBothAllowReverse, src, dst, sport, dport))
}

func (t *Table) SearchUDP(src, dst core.Address, sport, dport uint16) *Connection {
	c, _ := t.Search(fiveTuple(TypeUDP, MatchBoth, src, dst, sport, dport))
	return c
}

func (t *Table) SearchUDPEither(src, dst core.Address, sport, dport uint16) (*Connection, bool) {
	return t.Search(fiveTuple(TypeUDP, MatchBothAllowReverse, src, dst, sport, dport))
}

func (t *Table) SearchDNS(src, dst core.Address, sport, dport uint16) *Connection {
	c, _ := t.Search(fiveTuple(TypeDNS, MatchBoth, src, dst, sport, dport))
	return c
}

func (t *Table) SearchDNSEither(src, dst core.Address, sport, dport uint16) (*Connection, bool) {
	return t.Search(fiveTuple(TypeDNS, MatchBothAllowReverse, src, dst, sport, dport))
}

func (t *Table) SearchCoAP(src, dst core.Address, sport, dport uint16) *Connection {
	c, _ := t.Search(fiveTuple(TypeCoAP, MatchBoth, src, dst, sport, dport))
	return c
}

func (t *Table) SearchCoAPEither(src, dst core.Address, sport, dport uint16) (*Connection, bool) {
	return t.Search(fiveTuple(TypeCoAP, MatchBothAllowReverse, src, dst, sport, dport))
}

func (t *Table) SearchSCTPEither(src, dst core.Address, sport, dport uint16) (*Connection, bool) {
	return t.Search(fiveTuple(TypeSCTP, MatchBothAllowReverse, src, dst, sport, dport))
}

func (t *Table) SearchQUIC5TupleEither(src, dst core.Address, sport, dport uint16) (*Connection, bool) {
	return t.Search(fiveTuple(TypeQUIC, MatchBothAllowReverse, src, dst, sport, dport))
}

// SearchQUICCIDsEither matches a packet's source and destination IDs against
// the initiator's and responder's IDs in either order.
func (t *Table) SearchQUICCIDsEither(dcid, scid core.QuicConnectionID) (*Connection, bool) {
	return t.Search(Criteria{
		MatchType: true,
		Type:      TypeQUIC,
		CIDs:      MatchBothAllowReverse,
		Side1CID:  scid,
		Side2CID:  dcid,
	})
}

// SearchQUICDestCID finds the connection whose initiator chose dcid. Only
// the responder addresses packets to that ID, so a hit is from the
// responder.
func (t *Table) SearchQUICDestCID(dcid core.QuicConnectionID) *Connection {
	for _, c := range t.slots {
		if c == nil || c.typ != TypeQUIC {
			continue
		}
		if q := c.Payload.(*QUIC); q.Peer1CID.Equal(dcid) {
			return c
		}
	}
	return nil
}

// SearchQUICPartialCIDEither matches a destination ID of unknown length by
// prefix: against the responder's ID for initiator packets first, then
// against the initiator's ID for responder packets.
func (t *Table) SearchQUICPartialCIDEither(partial core.QuicConnectionID) (*Connection, bool) {
	if c, _ := t.Search(Criteria{
		MatchType:                  true,
		Type:                       TypeQUIC,
		MatchPartialDestinationCID: true,
		PartialDestinationCID:      partial,
	}); c != nil {
		return c, false
	}
	if c, _ := t.Search(Criteria{
		MatchType:             true,
		Type:                  TypeQUIC,
		MatchPartialSourceCID: true,
		PartialSourceCID:      partial,
	}); c != nil {
		return c, true
	}
	return nil, false
}

// SearchAggregate finds an existing aggregate with exactly the given
// pattern, used to avoid configuring the same aggregate twice.
func (t *Table) SearchAggregate(typ Type, side1, side2 core.Address, net1, net2 core.Network) *Connection {
	cr := Criteria{MatchType: true, Type: typ}
	switch typ {
	case TypeHostPair:
		cr.Addresses, cr.Side1Address, cr.Side2Address = MatchBoth, side1, side2
	case TypeHostNetwork:
		cr.Addresses, cr.Side1Address, cr.Side2Network = MatchHostNetwork, side1, net2
	case TypeNetworkNetwork:
		cr.Addresses, cr.Side1Network, cr.Side2Network = MatchNetworkNetwork, net1, net2
	case TypeMulticastGroup:
		cr.Addresses, cr.Side2Address = MatchDestinationOnly, side2
	default:
		return nil
	}
	c, _ := t.Search(cr)
	return c
}
