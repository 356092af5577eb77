package connection

import (
	"time"

	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/tracker"
)

// create inserts a record and links it with matching aggregates.
func (t *Table) create(typ Type, now time.Time, manual bool, state State, p Payload) (*Connection, error) {
	c, err := t.insert(typ, now, manual, p)
	if err != nil {
		return nil, err
	}
	c.State = state
	t.linkAggregates(c)
	t.logger.Debug("created connection", "id", c.ID, "type", typ.String())
	return c, nil
}

func endpoints(src, dst core.Address, sport, dport uint16) Endpoints {
	return Endpoints{Side1: src, Side2: dst, Side1Port: sport, Side2Port: dport}
}

func (t *Table) NewICMP(side1, side2 core.Address, peerType uint8, peerID uint16, now time.Time) (*Connection, error) {
	return t.create(TypeICMP, now, false, StateEstablishing, &ICMP{
		Side1:       side1,
		Side2:       side2,
		PeerType:    peerType,
		PeerID:      peerID,
		Side1Echoes: tracker.NewMIDTracker(),
	})
}

func (t *Table) NewTCP(src, dst core.Address, sport, dport uint16, now time.Time) (*Connection, error) {
	return t.create(TypeTCP, now, false, StateEstablishing, &TCP{
		Endpoints: endpoints(src, dst, sport, dport),
		Side1Seqs: tracker.NewSeqTracker(),
		Side2Seqs: tracker.NewSeqTracker(),
	})
}

func (t *Table) NewUDP(src, dst core.Address, sport, dport uint16, now time.Time) (*Connection, error) {
	return t.create(TypeUDP, now, false, StateEstablishing, &UDP{Endpoints: endpoints(src, dst, sport, dport)})
}

func (t *Table) NewDNS(src, dst core.Address, sport, dport uint16, now time.Time) (*Connection, error) {
	return t.create(TypeDNS, now, false, StateEstablishing, &DNS{
		Endpoints: endpoints(src, dst, sport, dport),
		Side1MIDs: tracker.NewMIDTracker(),
		Side2MIDs: tracker.NewMIDTracker(),
	})
}

func (t *Table) NewCoAP(src, dst core.Address, sport, dport uint16, dtls bool, now time.Time) (*Connection, error) {
	return t.create(TypeCoAP, now, false, StateEstablishing, &CoAP{
		Endpoints: endpoints(src, dst, sport, dport),
		Side1MIDs: tracker.NewMIDTracker(),
		Side2MIDs: tracker.NewMIDTracker(),
		DTLS:      dtls,
	})
}

func (t *Table) NewSCTP(src, dst core.Address, sport, dport uint16, side1Tag uint32, now time.Time) (*Connection, error) {
	return t.create(TypeSCTP, now, false, StateEstablishing, &SCTP{
		Endpoints:            endpoints(src, dst, sport, dport),
		Side1VerificationTag: side1Tag,
		Side1TSNs:            tracker.NewTSNTracker(),
		Side2TSNs:            tracker.NewTSNTracker(),
	})
}

func newQUIC(src, dst core.Address, sport, dport uint16, now time.Time) *QUIC {
	return &QUIC{
		Endpoints:          endpoints(src, dst, sport, dport),
		Side1InitialPacket: now,
		InitialLeftRTT:     tracker.RTTInfinite,
		InitialRightRTT:    tracker.RTTInfinite,
		FromPeer1:          newQUICDirection(),
		FromPeer2:          newQUICDirection(),
	}
}

// NewQUIC5TupleAndCIDs creates a QUIC flow from an initiator packet whose
// destination and source IDs are both known. The source ID is the
// initiator's own.
func (t *Table) NewQUIC5TupleAndCIDs(src, dst core.Address, sport, dport uint16, dcid, scid core.QuicConnectionID, now time.Time) (*Connection, error) {
	q := newQUIC(src, dst, sport, dport, now)
	q.Peer1CID = scid
	q.Peer2CID = dcid
	return t.create(TypeQUIC, now, false, StateEstablishing, q)
}

func (t *Table) NewQUIC5Tuple(src, dst core.Address, sport, dport uint16, now time.Time) (*Connection, error) {
	return t.create(TypeQUIC, now, false, StateEstablishing, newQUIC(src, dst, sport, dport, now))
}

func aggregateState(manual bool) State {
	if manual {
		return StateStatic
	}
	return StateEstablishing
}

func (t *Table) NewHostPair(side1, side2 core.Address, manual bool, now time.Time) (*Connection, error) {
	return t.create(TypeHostPair, now, manual, aggregateState(manual), &HostPair{Side1: side1, Side2: side2})
}

func (t *Table) NewHostNetwork(side1 core.Address, side2 core.Network, manual bool, now time.Time) (*Connection, error) {
	return t.create(TypeHostNetwork, now, manual, aggregateState(manual), &HostNetwork{Side1: side1, Side2Network: side2})
}

func (t *Table) NewNetworkNetwork(side1, side2 core.Network, manual bool, now time.Time) (*Connection, error) {
	return t.create(TypeNetworkNetwork, now, manual, aggregateState(manual), &NetworkNetwork{Side1Network: side1, Side2Network: side2})
}

func (t *Table) NewMulticastGroup(group core.Address, manual bool, now time.Time) (*Connection, error) {
	return t.create(TypeMulticastGroup, now, manual, aggregateState(manual), &MulticastGroup{Group: group})
}
