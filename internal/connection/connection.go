package connection

import (
	"fmt"
	"time"

	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/tracker"
)

// Side holds what was observed from one endpoint of a connection. Side1 is
// the initiator, Side2 the responder.
type Side struct {
	LastSeen time.Time
	Packets  uint64
	Bytes    tracker.Bandwidth

	ECT0 uint64
	ECT1 uint64
	CE   uint64

	// FullRTT is the unidirectional round trip measured on packets sent by
	// this side (spin or delay bit period).
	FullRTT tracker.RTT

	RTLoss tracker.LossRates
	QRLoss tracker.QRLossRates
	QLoss  float64
	LLoss  float64
}

// Connection is one tracked flow or aggregate.
type Connection struct {
	ID              uint64
	typ             Type
	State           State
	ManuallyCreated bool
	Deleted         bool
	CreationTime    time.Time

	Side1 Side
	Side2 Side

	// LeftRTT is measured from the responder towards the initiator and back,
	// RightRTT from the initiator's side towards the responder.
	LeftRTT  tracker.RTT
	RightRTT tracker.RTT

	Aggregates IDSet

	// HandlerData holds one opaque value per registered handler.
	HandlerData [MaxHandlers]any

	Payload Payload
}

func newConnection(id uint64, typ Type, now time.Time, manual bool, p Payload) *Connection {
	c := &Connection{
		ID:              id,
		typ:             typ,
		ManuallyCreated: manual,
		CreationTime:    now,
		LeftRTT:         tracker.NewRTT(),
		RightRTT:        tracker.NewRTT(),
		Payload:         p,
	}
	c.Side1.LastSeen = now
	c.Side1.FullRTT = tracker.NewRTT()
	c.Side2.FullRTT = tracker.NewRTT()
	return c
}

// Type is fixed at creation.
func (c *Connection) Type() Type { return c.typ }

// SideFor returns the side that sent a packet.
func (c *Connection) SideFor(fromResponder bool) *Side {
	if fromResponder {
		return &c.Side2
	}
	return &c.Side1
}

// MarkDeleted flags the connection for removal by the next sweep.
func (c *Connection) MarkDeleted() { c.Deleted = true }

// LastAction returns the time elapsed since the most recent packet from
// either side.
func (c *Connection) LastAction(now time.Time) time.Duration {
	switch {
	case c.Side1.LastSeen.IsZero():
		return 0
	case c.Side2.LastSeen.IsZero():
		return now.Sub(c.Side1.LastSeen)
	case c.Side2.LastSeen.After(c.Side1.LastSeen):
		return now.Sub(c.Side2.LastSeen)
	default:
		return now.Sub(c.Side1.LastSeen)
	}
}

// Addresses returns the side addresses; a zero Address marks an absent one.
func (c *Connection) Addresses() (side1, side2 core.Address) {
	a1, a2 := c.Payload.addresses()
	if a1 != nil {
		side1 = *a1
	}
	if a2 != nil {
		side2 = *a2
	}
	return side1, side2
}

// Ports returns the side ports, zero for portless types.
func (c *Connection) Ports() (side1, side2 uint16) { return c.Payload.ports() }

// Members returns the member set of an aggregate, nil otherwise.
func (c *Connection) Members() *IDSet { return c.Payload.members() }

// AddressString renders the endpoints the way connection listings show them.
func (c *Connection) AddressString() string {
	switch p := c.Payload.(type) {
	case *HostNetwork:
		return p.Side1.String() + " <-> " + p.Side2Network.String()
	case *NetworkNetwork:
		return p.Side1Network.String() + " <-> " + p.Side2Network.String()
	case *MulticastGroup:
		return p.Group.String()
	}
	a1, a2 := c.Addresses()
	return a1.String() + " <-> " + a2.String()
}

// SessionString identifies the flow within its address pair: ports, QUIC
// connection IDs, ICMP id or the member count of an aggregate.
func (c *Connection) SessionString() string {
	switch p := c.Payload.(type) {
	case *QUIC:
		return p.Peer1CID.String() + "-" + p.Peer2CID.String()
	case *ICMP:
		return fmt.Sprintf("%d", p.PeerID)
	}
	if m := c.Members(); m != nil {
		return fmt.Sprintf("%d sessions", m.Len())
	}
	p1, p2 := c.Ports()
	return fmt.Sprintf("%d:%d", p1, p2)
}

func (c *Connection) String() string {
	return fmt.Sprintf("%s connection %d %s %s", c.typ, c.ID, c.AddressString(), c.SessionString())
}

// Payload is the per-type part of a connection. It is implemented only by
// the types of this package.
type Payload interface {
	addresses() (side1, side2 *core.Address)
	ports() (side1, side2 uint16)
	members() *IDSet
}

// Endpoints is the address and port pair shared by the transport payloads.
type Endpoints struct {
	Side1     core.Address
	Side2     core.Address
	Side1Port uint16
	Side2Port uint16
}

func (e *Endpoints) addresses() (*core.Address, *core.Address) { return &e.Side1, &e.Side2 }
func (e *Endpoints) ports() (uint16, uint16)                   { return e.Side1Port, e.Side2Port }
func (e *Endpoints) members() *IDSet                           { return nil }

type TCP struct {
	Endpoints
	Side1Seqs    *tracker.SeqTracker
	Side2Seqs    *tracker.SeqTracker
	FinFromSide1 bool
	FinFromSide2 bool
}

// SetFin records a FIN sent by the responder when fromResponder is set, by
// the initiator otherwise.
func (p *TCP) SetFin(fromResponder bool) {
	if fromResponder {
		p.FinFromSide2 = true
	} else {
		p.FinFromSide1 = true
	}
}

type UDP struct {
	Endpoints
}

type DNS struct {
	Endpoints
	Side1MIDs       *tracker.MIDTracker
	Side2MIDs       *tracker.MIDTracker
	LastQueriedName string
}

type CoAP struct {
	Endpoints
	Side1MIDs   *tracker.MIDTracker
	Side2MIDs   *tracker.MIDTracker
	DTLS        bool
	DTLSVersion uint16
}

// QUICDirection groups the trackers fed by packets flowing one way.
type QUICDirection struct {
	Spin    *tracker.SpinTracker
	RTLoss1 *tracker.RTLoss1
	RTLoss2 *tracker.RTLoss2
	QRLoss  *tracker.QRLoss
	QLLoss  *tracker.QLLoss
	Delay   tracker.DelayBit
}

func newQUICDirection() QUICDirection {
	return QUICDirection{
		Spin:    tracker.NewSpinTracker(),
		RTLoss1: tracker.NewRTLoss1(),
		RTLoss2: tracker.NewRTLoss2(),
		QRLoss:  tracker.NewQRLoss(),
		QLLoss:  tracker.NewQLLoss(),
	}
}

type QUIC struct {
	Endpoints
	// Peer1CID is the connection ID chosen by the initiator, Peer2CID the
	// one chosen by the responder.
	Peer1CID core.QuicConnectionID
	Peer2CID core.QuicConnectionID

	Version         uint32
	OriginalVersion uint32

	Side1InitialPacket         time.Time
	Side2InitialResponsePacket time.Time
	InitialLeftRTT             uint32
	InitialRightRTT            uint32

	FromPeer1 QUICDirection
	FromPeer2 QUICDirection
}

// Direction returns the trackers for packets sent by the responder when
// fromResponder is set, by the initiator otherwise.
func (q *QUIC) Direction(fromResponder bool) *QUICDirection {
	if fromResponder {
		return &q.FromPeer2
	}
	return &q.FromPeer1
}

type ICMP struct {
	Side1 core.Address
	Side2 core.Address
	// PeerType is the request type sent by side1.
	PeerType       uint8
	PeerID         uint16
	LatestSequence uint16
	Side1Echoes    *tracker.MIDTracker
}

func (p *ICMP) addresses() (*core.Address, *core.Address) { return &p.Side1, &p.Side2 }
func (p *ICMP) ports() (uint16, uint16)                   { return 0, 0 }
func (p *ICMP) members() *IDSet                           { return nil }

type SCTP struct {
	Endpoints
	Side1VerificationTag uint32
	Side2VerificationTag uint32
	Side1TSNs            *tracker.TSNTracker
	Side2TSNs            *tracker.TSNTracker
}

type HostPair struct {
	Side1   core.Address
	Side2   core.Address
	Members IDSet
}

func (p *HostPair) addresses() (*core.Address, *core.Address) { return &p.Side1, &p.Side2 }
func (p *HostPair) ports() (uint16, uint16)                   { return 0, 0 }
func (p *HostPair) members() *IDSet                           { return &p.Members }

type HostNetwork struct {
	Side1        core.Address
	Side2Network core.Network
	Members      IDSet
}

func (p *HostNetwork) addresses() (*core.Address, *core.Address) { return &p.Side1, nil }
func (p *HostNetwork) ports() (uint16, uint16)                   { return 0, 0 }
func (p *HostNetwork) members() *IDSet                           { return &p.Members }

type NetworkNetwork struct {
	Side1Network core.Network
	Side2Network core.Network
	Members      IDSet
}

func (p *NetworkNetwork) addresses() (*core.Address, *core.Address) { return nil, nil }
func (p *NetworkNetwork) ports() (uint16, uint16)                   { return 0, 0 }
func (p *NetworkNetwork) members() *IDSet                           { return &p.Members }

type MulticastGroup struct {
	Group   core.Address
	Members IDSet
}

func (p *MulticastGroup) addresses() (*core.Address, *core.Address) { return nil, &p.Group }
func (p *MulticastGroup) ports() (uint16, uint16)                   { return 0, 0 }
func (p *MulticastGroup) members() *IDSet                           { return &p.Members }

// MatchesAggregate reports whether a flow with the given endpoint addresses
// belongs to the aggregate agg, in either direction.
func MatchesAggregate(agg *Connection, src, dst core.Address) bool {
	switch p := agg.Payload.(type) {
	case *HostPair:
		return (src.Equal(p.Side1) && dst.Equal(p.Side2)) ||
			(src.Equal(p.Side2) && dst.Equal(p.Side1))
	case *HostNetwork:
		return (src.Equal(p.Side1) && p.Side2Network.Contains(dst)) ||
			(dst.Equal(p.Side1) && p.Side2Network.Contains(src))
	case *NetworkNetwork:
		return (p.Side1Network.Contains(src) && p.Side2Network.Contains(dst)) ||
			(p.Side1Network.Contains(dst) && p.Side2Network.Contains(src))
	case *MulticastGroup:
		return src.Equal(p.Group) || dst.Equal(p.Group)
	default:
		return false
	}
}

// matchesAggregateConnection checks a flow's own addresses against agg.
// Flows without both addresses (aggregates themselves) never match.
func matchesAggregateConnection(c, agg *Connection) bool {
	a1, a2 := c.Payload.addresses()
	if a1 == nil || a2 == nil {
		return false
	}
	return MatchesAggregate(agg, *a1, *a2)
}
