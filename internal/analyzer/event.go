package analyzer

import (
	"fmt"
	"math/bits"
	"strings"
	"time"

	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/core"
)

// Event is a bit mask of analyzer events. A handler registers for a mask and
// is called once per single event it matches.
type Event uint32

const (
	EventNewConnection Event = 1 << iota
	EventConnectionDelete
	EventNewLeftRTT
	EventNewRightRTT
	EventNewInitRespFullRTT
	EventNewRespInitFullRTT
	EventInitiatorSpinFlip
	EventResponderSpinFlip
	EventInitiatorSpinValue
	EventResponderSpinValue
	EventNewPacket
	EventFirstResponsePacket
	EventStateChange
	EventInitiatorECNCE
	EventResponderECNCE
	EventInitiatorRTLoss
	EventResponderRTLoss
	EventInitiatorQRLoss
	EventResponderQRLoss
	EventInitiatorQLLoss
	EventResponderQLLoss

	eventEnd

	// AllEvents matches every event the analyzer emits.
	AllEvents = eventEnd - 1
)

var eventNames = map[Event]string{
	EventNewConnection:       "newconnection",
	EventConnectionDelete:    "connectiondelete",
	EventNewLeftRTT:          "newleftrttmeasurement",
	EventNewRightRTT:         "newrightrttmeasurement",
	EventNewInitRespFullRTT:  "newinitrespfullrttmeasurement",
	EventNewRespInitFullRTT:  "newrespinitfullrttmeasurement",
	EventInitiatorSpinFlip:   "initiatorspinflip",
	EventResponderSpinFlip:   "responderspinflip",
	EventInitiatorSpinValue:  "initiatorspinvalue",
	EventResponderSpinValue:  "responderspinvalue",
	EventNewPacket:           "newpacket",
	EventFirstResponsePacket: "firstresponsepacket",
	EventStateChange:         "statechange",
	EventInitiatorECNCE:      "initiatorecnce",
	EventResponderECNCE:      "responderecnce",
	EventInitiatorRTLoss:     "initiatorrtlossmeasurement",
	EventResponderRTLoss:     "responderrtlossmeasurement",
	EventInitiatorQRLoss:     "initiatorqrlossmeasurement",
	EventResponderQRLoss:     "responderqrlossmeasurement",
	EventInitiatorQLLoss:     "initiatorqllossmeasurement",
	EventResponderQLLoss:     "responderqllossmeasurement",
}

func (e Event) String() string {
	switch {
	case e == 0:
		return "none"
	case e == AllEvents:
		return "alllegal"
	case bits.OnesCount32(uint32(e)) > 1:
		return "multiple"
	}
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%#x)", uint32(e))
}

// Events lists the single events of a mask in bit order.
func (e Event) Events() []Event {
	var out []Event
	for b := Event(1); b < eventEnd; b <<= 1 {
		if e&b != 0 {
			out = append(out, b)
		}
	}
	return out
}

// ParseEvent accepts an event name, "all" or "alllegal".
func ParseEvent(s string) (Event, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "all" || s == "alllegal" {
		return AllEvents, nil
	}
	for e, name := range eventNames {
		if name == s {
			return e, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown event %q", core.ErrConfigInvalid, s)
}

// EventNames returns every single event name in bit order.
func EventNames() []string {
	out := make([]string, 0, len(eventNames))
	for _, e := range AllEvents.Events() {
		out = append(out, eventNames[e])
	}
	return out
}

// PacketInfo describes the packet that caused an event. Delete events raised
// by the sweep carry only the sweep time.
type PacketInfo struct {
	Timestamp     time.Time
	FromResponder bool
	IPLength      int
}

// HandlerFunc receives analyzer events. data is the handler's own slot on
// the connection; the analyzer never reads it.
type HandlerFunc func(ev Event, pkt PacketInfo, c *connection.Connection, data *any)

type handler struct {
	mask Event
	fn   HandlerFunc
}

// Register adds a handler for the events in mask and returns its slot
// index. At most connection.MaxHandlers handlers can be registered.
func (a *Analyzer) Register(mask Event, fn HandlerFunc) (int, error) {
	if len(a.handlers) == connection.MaxHandlers {
		return -1, fmt.Errorf("%w: limit is %d", core.ErrTooManyHandlers, connection.MaxHandlers)
	}
	a.handlers = append(a.handlers, handler{mask: mask & AllEvents, fn: fn})
	return len(a.handlers) - 1, nil
}

func (a *Analyzer) fire(ev Event, pkt PacketInfo, c *connection.Connection) {
	for i := range a.handlers {
		h := &a.handlers[i]
		if h.mask&ev != 0 {
			h.fn(ev, pkt, c, &c.HandlerData[i])
		}
	}
}

// sided picks the initiator or responder variant of a per-side event.
func sided(fromResponder bool, initiator, responder Event) Event {
	if fromResponder {
		return responder
	}
	return initiator
}
