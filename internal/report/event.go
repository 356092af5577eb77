// Package report turns analyzer events and periodic table snapshots into
// records for the configured reporters.
package report

import (
	"strconv"

	"firestige.xyz/flowscope/internal/analyzer"
	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/tracker"
)

// Event kinds, as written in the "event" field.
const (
	KindNew         = "new"
	KindChange      = "change"
	KindDelete      = "delete"
	KindMeasurement = "measurement"
	KindSpinFlip    = "spinflip"
	KindSpinValue   = "spinvalue"
	KindECNCE       = "ecnce"
	KindRTLoss      = "rtloss"
	KindQRLoss      = "qrloss"
	KindQLLoss      = "qlloss"
	KindPacket      = "packet"
)

// Event is the serialisable form of one analyzer event. Times are
// microseconds, RTTs microseconds, loss values fractions.
type Event struct {
	Source analyzer.Event `json:"-"`

	Kind    string    `json:"event"`
	Type    string    `json:"type"`
	ID      uint64    `json:"id"`
	Addrs   [2]string `json:"addrs"`
	Session string    `json:"session"`
	Ts      int64     `json:"ts"`
	State   string    `json:"state"`
	Who     string    `json:"who,omitempty"`

	LeftRTT             *uint32 `json:"left_rtt,omitempty"`
	AvgLeftRTT          *uint32 `json:"avg_left_rtt,omitempty"`
	DevLeftRTT          *uint32 `json:"dev_left_rtt,omitempty"`
	RightRTT            *uint32 `json:"right_rtt,omitempty"`
	AvgRightRTT         *uint32 `json:"avg_right_rtt,omitempty"`
	DevRightRTT         *uint32 `json:"dev_right_rtt,omitempty"`
	FullRTTInitiator    *uint32 `json:"full_rtt_initiator,omitempty"`
	AvgFullRTTInitiator *uint32 `json:"avg_full_rtt_initiator,omitempty"`
	FullRTTResponder    *uint32 `json:"full_rtt_responder,omitempty"`
	AvgFullRTTResponder *uint32 `json:"avg_full_rtt_responder,omitempty"`

	Transition string `json:"transition,omitempty"`
	Value      *uint8 `json:"value,omitempty"`

	ECN0 *uint64 `json:"ecn0,omitempty"`
	ECN1 *uint64 `json:"ecn1,omitempty"`
	CE   *uint64 `json:"ce,omitempty"`

	AvgLoss *float64 `json:"avg_loss,omitempty"`
	TotLoss *float64 `json:"tot_loss,omitempty"`
	QLoss   *float64 `json:"q_loss,omitempty"`
	LLoss   *float64 `json:"l_loss,omitempty"`

	Length *int `json:"length,omitempty"`

	Packets1   uint64  `json:"packets1"`
	Packets2   uint64  `json:"packets2"`
	Bytes1     uint64  `json:"bytes1"`
	Bytes2     uint64  `json:"bytes2"`
	Bandwidth1 *uint64 `json:"bandwidth1,omitempty"`
	Bandwidth2 *uint64 `json:"bandwidth2,omitempty"`
}

// Name is the analyzer event name the record was built from.
func (e *Event) Name() string { return e.Source.String() }

// Key identifies the connection; events of one connection share it.
func (e *Event) Key() string { return strconv.FormatUint(e.ID, 10) }

// RTT returns the measurement carried by a measurement event.
func (e *Event) RTT() (uint32, bool) {
	for _, p := range []*uint32{e.LeftRTT, e.RightRTT, e.FullRTTInitiator, e.FullRTTResponder} {
		if p != nil {
			return *p, true
		}
	}
	return 0, false
}

func kindOf(ev analyzer.Event) string {
	switch ev {
	case analyzer.EventNewConnection:
		return KindNew
	case analyzer.EventConnectionDelete:
		return KindDelete
	case analyzer.EventStateChange:
		return KindChange
	case analyzer.EventNewLeftRTT, analyzer.EventNewRightRTT,
		analyzer.EventNewInitRespFullRTT, analyzer.EventNewRespInitFullRTT:
		return KindMeasurement
	case analyzer.EventInitiatorSpinFlip, analyzer.EventResponderSpinFlip:
		return KindSpinFlip
	case analyzer.EventInitiatorSpinValue, analyzer.EventResponderSpinValue:
		return KindSpinValue
	case analyzer.EventInitiatorECNCE, analyzer.EventResponderECNCE:
		return KindECNCE
	case analyzer.EventInitiatorRTLoss, analyzer.EventResponderRTLoss:
		return KindRTLoss
	case analyzer.EventInitiatorQRLoss, analyzer.EventResponderQRLoss:
		return KindQRLoss
	case analyzer.EventInitiatorQLLoss, analyzer.EventResponderQLLoss:
		return KindQLLoss
	default:
		return KindPacket
	}
}

// sideOf reports which side an event concerns: true for the responder.
// Events without a fixed side take it from the packet.
func sideOf(ev analyzer.Event, pkt analyzer.PacketInfo) bool {
	switch ev {
	case analyzer.EventResponderSpinFlip, analyzer.EventResponderSpinValue,
		analyzer.EventResponderECNCE, analyzer.EventResponderRTLoss,
		analyzer.EventResponderQRLoss, analyzer.EventResponderQLLoss,
		analyzer.EventNewRespInitFullRTT:
		return true
	case analyzer.EventInitiatorSpinFlip, analyzer.EventInitiatorSpinValue,
		analyzer.EventInitiatorECNCE, analyzer.EventInitiatorRTLoss,
		analyzer.EventInitiatorQRLoss, analyzer.EventInitiatorQLLoss,
		analyzer.EventNewInitRespFullRTT:
		return false
	}
	return pkt.FromResponder
}

func who(fromResponder bool) string {
	if fromResponder {
		return "responder"
	}
	return "initiator"
}

// Endpoints renders the two sides of a connection. Aggregates show their
// networks; a multicast group has only the group address.
func Endpoints(c *connection.Connection) [2]string {
	switch p := c.Payload.(type) {
	case *connection.HostNetwork:
		return [2]string{p.Side1.String(), p.Side2Network.String()}
	case *connection.NetworkNetwork:
		return [2]string{p.Side1Network.String(), p.Side2Network.String()}
	case *connection.MulticastGroup:
		return [2]string{"", p.Group.String()}
	}
	a1, a2 := c.Addresses()
	return [2]string{a1.String(), a2.String()}
}

// NewEvent builds the record for one event. addrs may be nil, in which case
// the endpoints are rendered from c.
func NewEvent(ev analyzer.Event, pkt analyzer.PacketInfo, c *connection.Connection, addrs *[2]string) *Event {
	e := &Event{
		Source:   ev,
		Kind:     kindOf(ev),
		Type:     c.Type().String(),
		ID:       c.ID,
		Session:  c.SessionString(),
		Ts:       pkt.Timestamp.UnixMicro(),
		State:    c.State.String(),
		Packets1: c.Side1.Packets,
		Packets2: c.Side2.Packets,
		Bytes1:   c.Side1.Bytes.Bytes,
		Bytes2:   c.Side2.Bytes.Bytes,
	}
	if addrs != nil {
		e.Addrs = *addrs
	} else {
		e.Addrs = Endpoints(c)
	}
	if bw1, bw2 := c.Side1.Bytes.BitsPerSecond(), c.Side2.Bytes.BitsPerSecond(); bw1 > 0 || bw2 > 0 {
		e.Bandwidth1, e.Bandwidth2 = &bw1, &bw2
	}

	fromResponder := sideOf(ev, pkt)
	side := c.SideFor(fromResponder)

	switch e.Kind {
	case KindNew, KindChange, KindDelete:
		return e
	case KindPacket:
		e.Who = who(fromResponder)
		n := pkt.IPLength
		e.Length = &n
	case KindMeasurement:
		switch ev {
		case analyzer.EventNewLeftRTT:
			e.LeftRTT, e.AvgLeftRTT, e.DevLeftRTT = rttFields(&c.LeftRTT)
		case analyzer.EventNewRightRTT:
			e.RightRTT, e.AvgRightRTT, e.DevRightRTT = rttFields(&c.RightRTT)
		case analyzer.EventNewInitRespFullRTT:
			e.FullRTTInitiator, e.AvgFullRTTInitiator, _ = rttFields(&c.Side1.FullRTT)
		case analyzer.EventNewRespInitFullRTT:
			e.FullRTTResponder, e.AvgFullRTTResponder, _ = rttFields(&c.Side2.FullRTT)
		}
	case KindSpinFlip, KindSpinValue:
		e.Who = who(fromResponder)
		if q, ok := c.Payload.(*connection.QUIC); ok {
			spin, _ := q.Direction(fromResponder).Spin.LastSpin()
			if e.Kind == KindSpinFlip {
				e.Transition = "1-0"
				if spin {
					e.Transition = "0-1"
				}
			} else {
				var v uint8
				if spin {
					v = 1
				}
				e.Value = &v
			}
		}
	case KindECNCE:
		e.Who = who(fromResponder)
		ecn0, ecn1, ce := side.ECT0, side.ECT1, side.CE
		e.ECN0, e.ECN1, e.CE = &ecn0, &ecn1, &ce
	case KindRTLoss:
		e.Who = who(fromResponder)
		avg, tot := side.RTLoss.Average, side.RTLoss.Total
		e.AvgLoss, e.TotLoss = &avg, &tot
	case KindQRLoss:
		e.Who = who(fromResponder)
		avg, tot := side.QRLoss.Average, side.QRLoss.Total
		e.AvgLoss, e.TotLoss = &avg, &tot
	case KindQLLoss:
		e.Who = who(fromResponder)
		q, l := side.QLoss, side.LLoss
		e.QLoss, e.LLoss = &q, &l
	}
	return e
}

func rttFields(r *tracker.RTT) (last, avg, dev *uint32) {
	if !r.HasMeasurement() {
		return nil, nil, nil
	}
	l := r.Last
	last = &l
	if r.MovingAvg != tracker.RTTInfinite {
		a, d := r.MovingAvg, r.StdDev
		avg, dev = &a, &d
	}
	return last, avg, dev
}
