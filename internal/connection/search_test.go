package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowscope/internal/core"
)

func TestSearchMirrorSetsFromResponder(t *testing.T) {
	tbl := newTestTable(t, Options{})
	c, err := tbl.NewUDP(hostX, hostY, 1, 2, t0)
	require.NoError(t, err)

	found, fromResponder := tbl.SearchUDPEither(hostX, hostY, 1, 2)
	assert.Same(t, c, found)
	assert.False(t, fromResponder)

	found, fromResponder = tbl.SearchUDPEither(hostY, hostX, 2, 1)
	assert.Same(t, c, found)
	assert.True(t, fromResponder)

	assert.Nil(t, tbl.SearchUDP(hostY, hostX, 2, 1), "exact search does not reverse")
	assert.Same(t, c, tbl.SearchUDP(hostX, hostY, 1, 2))
}

func TestSearchDirectionMustAgree(t *testing.T) {
	tbl := newTestTable(t, Options{})
	_, err := tbl.NewUDP(hostX, hostY, 1, 2, t0)
	require.NoError(t, err)

	found, _ := tbl.SearchUDPEither(hostX, hostY, 2, 1)
	assert.Nil(t, found, "addresses forward and ports reversed is not a match")
}

func TestSearchTypeIsolation(t *testing.T) {
	tbl := newTestTable(t, Options{})
	_, err := tbl.NewUDP(hostX, hostY, 1, 2, t0)
	require.NoError(t, err)

	found, _ := tbl.SearchTCPEither(hostX, hostY, 1, 2)
	assert.Nil(t, found)
	found, _ = tbl.SearchDNSEither(hostX, hostY, 1, 2)
	assert.Nil(t, found)
}

func TestSearchICMP(t *testing.T) {
	tbl := newTestTable(t, Options{})
	c, err := tbl.NewICMP(hostX, hostY, 8, 0x1234, t0)
	require.NoError(t, err)

	assert.Same(t, c, tbl.SearchICMP(hostX, hostY, 8, 0x1234))
	assert.Nil(t, tbl.SearchICMP(hostX, hostY, 8, 0x1235))
	assert.Nil(t, tbl.SearchICMP(hostY, hostX, 8, 0x1234))
	assert.Equal(t, "4660", c.SessionString())
}

func TestSearchQUIC(t *testing.T) {
	tbl := newTestTable(t, Options{})
	dcid := core.MustQuicConnectionID(0xa1, 0xa1, 0xa1, 0xa1)
	scid := core.MustQuicConnectionID(0xc3, 0xc3)
	c, err := tbl.NewQUIC5TupleAndCIDs(hostX, hostY, 40000, 443, dcid, scid, t0)
	require.NoError(t, err)
	assert.Equal(t, "c3c3-a1a1a1a1", c.SessionString())

	found, fromResponder := tbl.SearchQUIC5TupleEither(hostY, hostX, 443, 40000)
	assert.Same(t, c, found)
	assert.True(t, fromResponder)

	found, fromResponder = tbl.SearchQUICCIDsEither(dcid, scid)
	assert.Same(t, c, found)
	assert.False(t, fromResponder)

	found, fromResponder = tbl.SearchQUICCIDsEither(scid, dcid)
	assert.Same(t, c, found)
	assert.True(t, fromResponder)

	assert.Same(t, c, tbl.SearchQUICDestCID(scid))
	assert.Nil(t, tbl.SearchQUICDestCID(dcid))

	found, fromResponder = tbl.SearchQUICPartialCIDEither(core.MustQuicConnectionID(0xa1, 0xa1))
	assert.Same(t, c, found)
	assert.False(t, fromResponder)

	found, fromResponder = tbl.SearchQUICPartialCIDEither(core.MustQuicConnectionID(0xc3, 0xc3, 0x00))
	assert.Same(t, c, found)
	assert.True(t, fromResponder)

	found, _ = tbl.SearchQUICPartialCIDEither(core.MustQuicConnectionID(0xff))
	assert.Nil(t, found)
}

func TestSearchAggregate(t *testing.T) {
	tbl := newTestTable(t, Options{})
	net := core.MustParseNetwork("192.168.0.0/16")
	hn, err := tbl.NewHostNetwork(hostX, net, true, t0)
	require.NoError(t, err)
	mc, err := tbl.NewMulticastGroup(core.MustParseAddress("ff02::fb"), true, t0)
	require.NoError(t, err)

	assert.Same(t, hn, tbl.SearchAggregate(TypeHostNetwork, hostX, core.Address{}, core.Network{}, net))
	assert.Nil(t, tbl.SearchAggregate(TypeHostNetwork, hostY, core.Address{}, core.Network{}, net))
	assert.Same(t, mc, tbl.SearchAggregate(TypeMulticastGroup, core.Address{}, core.MustParseAddress("ff02::fb"), core.Network{}, core.Network{}))
}

func TestTypeStrings(t *testing.T) {
	for _, typ := range []Type{TypeTCP, TypeQUIC, TypeHostPair, TypeMulticastGroup} {
		parsed, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}
	parsed, err := ParseType("networknetwork")
	require.NoError(t, err)
	assert.Equal(t, TypeNetworkNetwork, parsed)
	_, err = ParseType("bogus")
	assert.Error(t, err)
	assert.Equal(t, "Up", StateEstablished.String())
}
