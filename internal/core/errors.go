// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Decoders and the analyzer return these unwrapped so
// callers can classify them with errors.Is and bump the matching counter.
var (
	// Link and network layer errors
	ErrPacketTooShort      = errors.New("flowscope: packet too short")
	ErrUnsupportedLinkType = errors.New("flowscope: unsupported link type")
	ErrUnsupportedProto    = errors.New("flowscope: unsupported protocol")
	ErrInvalidIPVersion    = errors.New("flowscope: invalid ip version")
	ErrInvalidIPHeader     = errors.New("flowscope: invalid ip header")
	ErrInvalidIPLength     = errors.New("flowscope: invalid ip length")
	ErrUnhandledFragment   = errors.New("flowscope: unhandled ip fragment")

	// Transport layer errors
	ErrInvalidTCPHeader  = errors.New("flowscope: invalid tcp header size")
	ErrInvalidSCTPHeader = errors.New("flowscope: invalid sctp header")
	ErrSCTPChunkTooShort = errors.New("flowscope: sctp chunk too short")

	// Application layer errors
	ErrNotQUIC                 = errors.New("flowscope: not a quic packet")
	ErrUnsupportedQUICVersion  = errors.New("flowscope: unsupported quic version")
	ErrUnrecognisedQUICVersion = errors.New("flowscope: unrecognised quic version")
	ErrInvalidCIDLength        = errors.New("flowscope: invalid quic connection id length")
	ErrInvalidVarint           = errors.New("flowscope: invalid quic varint")
	ErrInvalidDNSName          = errors.New("flowscope: invalid dns name")
	ErrInvalidCoAPHeader       = errors.New("flowscope: invalid coap header")
	ErrInvalidTLSRecord        = errors.New("flowscope: invalid tls record")

	// Connection table errors
	ErrTableFull          = errors.New("flowscope: connection table full")
	ErrConnectionNotFound = errors.New("flowscope: connection not found")

	// Analyzer errors
	ErrTooManyHandlers = errors.New("flowscope: too many event handlers")

	// Reporter errors
	ErrReporterNotFound   = errors.New("flowscope: reporter not found")
	ErrReporterInitFailed = errors.New("flowscope: reporter init failed")

	// Configuration errors
	ErrConfigInvalid = errors.New("flowscope: invalid configuration")
)
