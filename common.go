package fedcomm

import (
	"fmt"
	"net"
	"time"
)

// =========================
//
// stream transport frame structure (§4.3, §6):
//
// 1. lenFrame: 4 bytes, big endian uint32. How many bytes follow.
// 2. frame: lenFrame bytes. The frameCompressor's codec-tagged bytes,
//    which decompress to an encodeActionMessage() body.
//
// A frame whose lenFrame would exceed maxMessageSize is rejected and
// the connection is dropped (§6 "frames larger than this close the
// connection").
//
// =========================

// a work (workspace) lets us re-use memory
// without constantly allocating.
// There should be one for reading, and
// a separate one for writing, so each
// goroutine needs its own so as to not
// colide with any other goroutine.
type workspace struct {
	buf []byte
}

func newWorkspace() *workspace {
	return &workspace{
		buf: make([]byte, 1<<16),
	}
}

// recvFrame reads one length-prefixed frame from conn and returns the
// decoded ActionMessage. Its envelope is the same frameHeaderLen
// prefix packetize/depacketize (actionmsg.go) use, applied here around
// a compressed body since a stream connection is read incrementally
// rather than out of an already-buffered []byte. nil or 0 timeout
// means no timeout.
func (w *workspace) recvFrame(conn net.Conn, fc *frameCompressor, maxMessageSize int, timeout *time.Duration) (*ActionMessage, error) {
	header := make([]byte, frameHeaderLen)
	if err := readFull(conn, header, timeout); err != nil {
		return nil, err
	}
	n := frameBodyLen(header)
	if maxMessageSize > 0 && n > maxMessageSize {
		return nil, fmt.Errorf("fedcomm: frame of %d bytes exceeds maxMessageSize %d", n, maxMessageSize)
	}

	frame := make([]byte, n)
	if err := readFull(conn, frame, timeout); err != nil {
		return nil, err
	}

	body, err := fc.Decompress(frame)
	if err != nil {
		return nil, err
	}
	return decodeActionMessage(body)
}

// sendFrame writes one length-prefixed frame to conn, built with the
// same packFrame primitive packetize uses, wrapped around a compressed
// body rather than a raw one. nil or 0 timeout means no timeout.
func (w *workspace) sendFrame(conn net.Conn, fc *frameCompressor, m *ActionMessage, timeout *time.Duration) error {
	body, err := encodeActionMessage(m)
	if err != nil {
		return err
	}
	frame, err := fc.Compress(body)
	if err != nil {
		return err
	}
	return writeFull(conn, packFrame(frame), timeout)
}

// ioUntilFull drives move (conn.Read or conn.Write) until exactly
// len(buf) bytes have moved, arming the deadline setter once up front.
// readFull and writeFull differ only in which pair of conn methods
// they pass in, so the retry loop itself lives here exactly once.
func ioUntilFull(buf []byte, setDeadline func(time.Time) error, move func([]byte) (int, error), timeout *time.Duration) error {
	if timeout != nil && *timeout > 0 {
		setDeadline(time.Now().Add(*timeout))
	}
	total := 0
	for total < len(buf) {
		n, err := move(buf[total:])
		total += n
		if total == len(buf) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// readFull reads exactly len(buf) bytes from conn.
func readFull(conn net.Conn, buf []byte, timeout *time.Duration) error {
	return ioUntilFull(buf, conn.SetReadDeadline, conn.Read, timeout)
}

// writeFull writes all bytes in buf to conn.
func writeFull(conn net.Conn, buf []byte, timeout *time.Duration) error {
	return ioUntilFull(buf, conn.SetWriteDeadline, conn.Write, timeout)
}
