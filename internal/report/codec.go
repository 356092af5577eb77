package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encoding selects the wire format used by the message reporters.
type Encoding string

const (
	EncodingJSON  Encoding = "json"
	EncodingProto Encoding = "proto"
	EncodingText  Encoding = "text"
)

// ParseEncoding accepts json, proto and text; empty means json.
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(s)); e {
	case "":
		return EncodingJSON, nil
	case EncodingJSON, EncodingProto, EncodingText:
		return e, nil
	}
	return "", fmt.Errorf("unknown encoding %q (must be json/proto/text)", s)
}

// Encode serialises an event in the given format.
func Encode(e *Event, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingProto:
		s, err := ToStruct(e)
		if err != nil {
			return nil, err
		}
		return proto.Marshal(s)
	case EncodingText:
		return []byte(FormatText(e)), nil
	default:
		return json.Marshal(e)
	}
}

// ToStruct converts an event into a protobuf Struct with the same field
// names as the JSON form.
func ToStruct(e *Event) (*structpb.Struct, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// FormatText renders an event as one human readable line.
func FormatText(e *Event) string {
	var b strings.Builder
	ts := time.UnixMicro(e.Ts).UTC().Format("15:04:05.000000")
	fmt.Fprintf(&b, "%s %-5s %-11s %s %s <-> %s %s", ts, e.Type, e.Kind, e.Session, e.Addrs[0], e.Addrs[1], e.State)
	if e.Who != "" {
		fmt.Fprintf(&b, " %s", e.Who)
	}
	rtt := func(label string, v *uint32) {
		if v != nil {
			fmt.Fprintf(&b, " %s %s", label, time.Duration(*v)*time.Microsecond)
		}
	}
	rtt("left", e.LeftRTT)
	rtt("right", e.RightRTT)
	rtt("full(initiator)", e.FullRTTInitiator)
	rtt("full(responder)", e.FullRTTResponder)
	if e.Transition != "" {
		fmt.Fprintf(&b, " %s", e.Transition)
	}
	if e.Value != nil {
		fmt.Fprintf(&b, " spin=%d", *e.Value)
	}
	if e.CE != nil {
		fmt.Fprintf(&b, " ect0=%d ect1=%d ce=%d", *e.ECN0, *e.ECN1, *e.CE)
	}
	if e.AvgLoss != nil {
		fmt.Fprintf(&b, " loss avg=%.4f tot=%.4f", *e.AvgLoss, *e.TotLoss)
	}
	if e.QLoss != nil {
		fmt.Fprintf(&b, " qloss=%.4f lloss=%.4f", *e.QLoss, *e.LLoss)
	}
	if e.Length != nil {
		fmt.Fprintf(&b, " len=%d", *e.Length)
	}
	fmt.Fprintf(&b, " pkts=%d/%d bytes=%d/%d", e.Packets1, e.Packets2, e.Bytes1, e.Bytes2)
	return b.String()
}
