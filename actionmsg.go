package fedcomm

import (
	"encoding/binary"
	"fmt"
)

// Action tags the intent of an ActionMessage. The core treats most
// actions as opaque; only the protocol-command tags below are ever
// inspected by the substrate itself.
type Action int32

const (
	CMD_DATA Action = iota
	CMD_PROTOCOL
	CMD_PROTOCOL_PRIORITY
	CMD_PROTOCOL_BIG
	CMD_ERROR
	CMD_INIT_GRANT
)

func (a Action) String() string {
	switch a {
	case CMD_DATA:
		return "CMD_DATA"
	case CMD_PROTOCOL:
		return "CMD_PROTOCOL"
	case CMD_PROTOCOL_PRIORITY:
		return "CMD_PROTOCOL_PRIORITY"
	case CMD_PROTOCOL_BIG:
		return "CMD_PROTOCOL_BIG"
	case CMD_ERROR:
		return "CMD_ERROR"
	case CMD_INIT_GRANT:
		return "CMD_INIT_GRANT"
	default:
		return fmt.Sprintf("Action(%d)", int32(a))
	}
}

// Subcommand values are carried in ActionMessage.Index when Action is
// one of the CMD_PROTOCOL* tags. No other values are recognized; an
// unrecognized value must be ignored by a receiver, not treated as an
// error (forward-compatibility, see design notes).
type Subcommand int64

const (
	CLOSE_RECEIVER Subcommand = iota + 1
	DISCONNECT
	NEW_ROUTE
	QUERY_PORTS
	REQUEST_PORTS
	PORT_DEFINITIONS
)

// SET_TO_OPERATING has a fixed numeric value inherited from the wire
// protocol this substrate replaces; keep it stable across versions.
const SET_TO_OPERATING Subcommand = 135111

// ActionMessage is the opaque unit of transport. The core never
// interprets Payload; it only inspects Action and Index to recognize
// protocol commands and to route.
type ActionMessage struct {
	Action        Action
	MessageID     int64
	SourceID      int64
	SourceHandle  int64
	DestID        int64
	Index         Subcommand
	Payload       []byte

	// Diag is populated only on synthetic CMD_ERROR messages
	// produced by the core (see snapshotHostDiagnostics).
	Diag *HostDiagnostics
}

// isProtocolCommand reports whether m is one of the three protocol
// action tags. Non-protocol actions are always forwarded to the
// user's ActionCallback untouched.
func isProtocolCommand(m *ActionMessage) bool {
	switch m.Action {
	case CMD_PROTOCOL, CMD_PROTOCOL_PRIORITY, CMD_PROTOCOL_BIG:
		return true
	}
	return false
}

// isPriorityCommand decides queue-transport delivery priority for a
// protocol command: SET_TO_OPERATING and DISCONNECT/CLOSE_RECEIVER
// must not get stuck behind ordinary data traffic.
func isPriorityCommand(m *ActionMessage) bool {
	if !isProtocolCommand(m) {
		return false
	}
	switch m.Index {
	case SET_TO_OPERATING, DISCONNECT, CLOSE_RECEIVER:
		return true
	}
	return false
}

// queuePriority implements §4.4's "isPriorityCommand(cmd) ? 3 : 1;
// SET_TO_OPERATING always goes at 3" assignment.
func queuePriority(m *ActionMessage) int {
	if m.Index == SET_TO_OPERATING || isPriorityCommand(m) {
		return 3
	}
	return 1
}

// frameHeaderLen is the width of the big-endian length prefix that
// precedes every frame body on the wire (§4.3, §6). common.go's
// sendFrame/recvFrame build the same envelope around a compressed
// body; packFrame/unpackFrame are the shared primitive both that path
// and packetize/depacketize below are expressed in terms of, so the
// byte layout is defined in exactly one place.
const frameHeaderLen = 4

// packFrame prepends a frameHeaderLen length prefix to body.
func packFrame(body []byte) []byte {
	out := make([]byte, frameHeaderLen+len(body))
	binary.BigEndian.PutUint32(out[:frameHeaderLen], uint32(len(body)))
	copy(out[frameHeaderLen:], body)
	return out
}

// unpackFrame extracts the first complete frame body from buf.
// consumed==0 means buf did not yet contain a complete frame; the
// caller must retain buf unmodified and read more before calling
// again.
func unpackFrame(buf []byte) (body []byte, consumed int) {
	if len(buf) < frameHeaderLen {
		return nil, 0
	}
	n := binary.BigEndian.Uint32(buf[:frameHeaderLen])
	if len(buf) < frameHeaderLen+int(n) {
		return nil, 0
	}
	return buf[frameHeaderLen : frameHeaderLen+n], frameHeaderLen + int(n)
}

// frameBodyLen reads the length prefix out of a frameHeaderLen-byte
// header already read off the wire, shared with unpackFrame so the
// header format is decoded in exactly one place regardless of whether
// the caller has the whole frame buffered (unpackFrame) or is reading
// it incrementally off a net.Conn (common.go's recvFrame).
func frameBodyLen(header []byte) int {
	return int(binary.BigEndian.Uint32(header))
}

// packetize serializes m into a length-prefixed frame with no
// compression applied: [u32 big-endian length][encoded ActionMessage
// bytes]. common.go's sendFrame is the compressed analogue, built on
// the same packFrame primitive.
func packetize(m *ActionMessage) ([]byte, error) {
	body, err := encodeActionMessage(m)
	if err != nil {
		return nil, err
	}
	return packFrame(body), nil
}

// depacketize is packetize's inverse, extracting and decoding the
// first complete frame in buf. consumed==0 means buf did not contain a
// complete frame yet.
func depacketize(buf []byte) (m *ActionMessage, consumed int, err error) {
	body, consumed := unpackFrame(buf)
	if consumed == 0 {
		return nil, 0, nil
	}
	m, err = decodeActionMessage(body)
	if err != nil {
		return nil, 0, err
	}
	return m, consumed, nil
}

// encodeActionMessage and decodeActionMessage are the greenpack-style
// EncodeMsg/DecodeMsg pair for ActionMessage: a fixed run of varint
// fields followed by the raw payload bytes. Field order must match
// exactly between encode and decode.
func encodeActionMessage(m *ActionMessage) ([]byte, error) {
	buf := make([]byte, 0, 48+len(m.Payload))
	buf = appendVarint(buf, int64(m.Action))
	buf = appendVarint(buf, m.MessageID)
	buf = appendVarint(buf, m.SourceID)
	buf = appendVarint(buf, m.SourceHandle)
	buf = appendVarint(buf, m.DestID)
	buf = appendVarint(buf, int64(m.Index))
	buf = appendVarint(buf, int64(len(m.Payload)))
	buf = append(buf, m.Payload...)
	return buf, nil
}

func decodeActionMessage(b []byte) (*ActionMessage, error) {
	m := &ActionMessage{}
	var v int64
	var err error

	if v, b, err = readVarint(b); err != nil {
		return nil, err
	}
	m.Action = Action(v)

	if m.MessageID, b, err = readVarint(b); err != nil {
		return nil, err
	}
	if m.SourceID, b, err = readVarint(b); err != nil {
		return nil, err
	}
	if m.SourceHandle, b, err = readVarint(b); err != nil {
		return nil, err
	}
	if m.DestID, b, err = readVarint(b); err != nil {
		return nil, err
	}
	if v, b, err = readVarint(b); err != nil {
		return nil, err
	}
	m.Index = Subcommand(v)

	var plen int64
	if plen, b, err = readVarint(b); err != nil {
		return nil, err
	}
	if plen < 0 || int64(len(b)) < plen {
		return nil, fmt.Errorf("actionmsg: truncated payload: want %d have %d", plen, len(b))
	}
	if plen > 0 {
		m.Payload = append([]byte(nil), b[:plen]...)
	}
	return m, nil
}

func appendVarint(buf []byte, v int64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func readVarint(b []byte) (v int64, rest []byte, err error) {
	v, n := binary.Varint(b)
	if n <= 0 {
		return 0, b, fmt.Errorf("actionmsg: bad varint")
	}
	return v, b[n:], nil
}
