package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowscope/internal/analyzer"
	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/tracker"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newUDP(t *testing.T, tbl *connection.Table) *connection.Connection {
	t.Helper()
	c, err := tbl.NewUDP(core.MustParseAddress("10.0.0.1"), core.MustParseAddress("10.0.0.2"), 4000, 53, t0)
	require.NoError(t, err)
	return c
}

func TestNewEventConnection(t *testing.T) {
	tbl := connection.NewTable(connection.Options{})
	c := newUDP(t, tbl)

	e := NewEvent(analyzer.EventNewConnection, analyzer.PacketInfo{Timestamp: t0}, c, nil)
	assert.Equal(t, KindNew, e.Kind)
	assert.Equal(t, "UDP", e.Type)
	assert.Equal(t, [2]string{"10.0.0.1", "10.0.0.2"}, e.Addrs)
	assert.Equal(t, "4000:53", e.Session)
	assert.Equal(t, "Starting", e.State)
	assert.Equal(t, t0.UnixMicro(), e.Ts)
	assert.Empty(t, e.Who)
	assert.Nil(t, e.LeftRTT)
	assert.Equal(t, "newconnection", e.Name())
	assert.Equal(t, "0", e.Key())
}

func TestNewEventMeasurement(t *testing.T) {
	tbl := connection.NewTable(connection.Options{})
	c := newUDP(t, tbl)
	c.RightRTT.Add(15*time.Millisecond, tracker.RTTFilter{})

	e := NewEvent(analyzer.EventNewRightRTT, analyzer.PacketInfo{Timestamp: t0, FromResponder: true}, c, nil)
	assert.Equal(t, KindMeasurement, e.Kind)
	require.NotNil(t, e.RightRTT)
	assert.EqualValues(t, 15000, *e.RightRTT)
	require.NotNil(t, e.AvgRightRTT)
	assert.EqualValues(t, 15000, *e.AvgRightRTT)
	assert.Nil(t, e.LeftRTT)

	rtt, ok := e.RTT()
	assert.True(t, ok)
	assert.EqualValues(t, 15000, rtt)

	data, err := Encode(e, EncodingJSON)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "measurement", m["event"])
	assert.EqualValues(t, 15000, m["right_rtt"])
	assert.NotContains(t, m, "left_rtt")
}

func TestNewEventPacket(t *testing.T) {
	tbl := connection.NewTable(connection.Options{})
	c := newUDP(t, tbl)

	e := NewEvent(analyzer.EventNewPacket, analyzer.PacketInfo{Timestamp: t0, FromResponder: true, IPLength: 84}, c, nil)
	assert.Equal(t, KindPacket, e.Kind)
	assert.Equal(t, "responder", e.Who)
	require.NotNil(t, e.Length)
	assert.Equal(t, 84, *e.Length)

	_, ok := e.RTT()
	assert.False(t, ok)
}

func TestNewEventAggregateEndpoints(t *testing.T) {
	tbl := connection.NewTable(connection.Options{})
	c, err := tbl.NewHostNetwork(core.MustParseAddress("10.0.0.1"), core.MustParseNetwork("192.168.0.0/16"), true, t0)
	require.NoError(t, err)

	e := NewEvent(analyzer.EventNewConnection, analyzer.PacketInfo{Timestamp: t0}, c, nil)
	assert.Equal(t, [2]string{"10.0.0.1", "192.168.0.0/16"}, e.Addrs)
	assert.Equal(t, "H2NET", e.Type)
}

func TestEncodeProto(t *testing.T) {
	tbl := connection.NewTable(connection.Options{})
	c := newUDP(t, tbl)
	e := NewEvent(analyzer.EventNewConnection, analyzer.PacketInfo{Timestamp: t0}, c, nil)

	s, err := ToStruct(e)
	require.NoError(t, err)
	assert.Equal(t, "new", s.Fields["event"].GetStringValue())
	assert.Equal(t, "UDP", s.Fields["type"].GetStringValue())
	assert.Len(t, s.Fields["addrs"].GetListValue().GetValues(), 2)

	data, err := Encode(e, EncodingProto)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestFormatText(t *testing.T) {
	tbl := connection.NewTable(connection.Options{})
	c := newUDP(t, tbl)
	c.LeftRTT.Add(2*time.Millisecond, tracker.RTTFilter{})

	line := FormatText(NewEvent(analyzer.EventNewLeftRTT, analyzer.PacketInfo{Timestamp: t0}, c, nil))
	assert.Contains(t, line, "12:00:00.000000")
	assert.Contains(t, line, "10.0.0.1 <-> 10.0.0.2")
	assert.Contains(t, line, "left 2ms")
}

func TestParseEncoding(t *testing.T) {
	enc, err := ParseEncoding("")
	require.NoError(t, err)
	assert.Equal(t, EncodingJSON, enc)

	enc, err = ParseEncoding("PROTO")
	require.NoError(t, err)
	assert.Equal(t, EncodingProto, enc)

	_, err = ParseEncoding("xml")
	assert.Error(t, err)
}
