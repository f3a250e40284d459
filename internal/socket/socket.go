// Package socket implements the per-connection read/write state machines
// described by: a Socket owns one net.Conn plus an MQTTRead and
// an MQTTWrite state machine, accumulating bytes across non-blocking turns
// until a full MQTT v5 packet is available (or the kernel send buffer is
// ready to accept more).
package socket

import (
	"errors"
	"log"
	"net"
	"time"

	"github.com/poonai/mymq/internal/mqttv5"
)

// ReadState is the read-side state machine.
type ReadState int

const (
	ReadInit ReadState = iota
	ReadHeader
	ReadRemain
	ReadFin
)

// WriteState is the write-side state machine.
type WriteState int

const (
	WriteInit WriteState = iota
	WriteRemain
	WriteFin
)

// ErrDisconnected marks a connection as fatally closed: any I/O error other
// than a transient "would block" (surfaced here via a deadline timeout).
var ErrDisconnected = errors.New("socket: disconnected")

// ErrReadTimeout marks a connection whose read-side state machine has gone
// past its configured deadline without completing a packet. The deadline is
// armed by the first read that would block in any read state, including
// ReadInit between packets, and is cleared only when a packet completes.
var ErrReadTimeout = errors.New("socket: read timeout")

// Stats reports what one ReadPackets or WritePackets call accomplished.
type Stats struct {
	Bytes   int
	Packets int
}

// Socket wraps one TCP connection with the partial-read/partial-write state
// machines a broker needs. It performs no session- or shard-level logic;
// it only turns a stream of bytes into a queue of parsed packets and back.
type Socket struct {
	conn net.Conn

	readState   ReadState
	readBuf     []byte // accumulates the current partial packet
	fh          mqttv5.FixedHeader
	readDeadlineArmed bool
	readDeadlineAt    time.Time
	readTimeout       time.Duration

	writeState  WriteState
	writeBuf    []byte // encoded bytes not yet fully written to the kernel
	writeOff    int

	pending []mqttv5.Packet // fully decoded packets awaiting drain into the session queue
}

// New wraps conn. readTimeout bounds how long the read state machine may go,
// from its first would-block read, without completing a packet before
// ReadPackets returns ErrReadTimeout; zero disables the timeout.
func New(conn net.Conn, readTimeout time.Duration) *Socket {
	return &Socket{conn: conn, readTimeout: readTimeout}
}

// Conn exposes the underlying connection, e.g. for RemoteAddr() or Close().
func (s *Socket) Conn() net.Conn { return s.conn }

// Close tears down the underlying connection.
func (s *Socket) Close() error { return s.conn.Close() }

func isWouldBlock(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// readSome performs one non-blocking-equivalent read: arm a near-zero
// deadline, read what's available, and report would-block as a Block-style
// nil-without-progress rather than an error.
func (s *Socket) readSome(buf []byte) (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(5 * time.Millisecond)); err != nil {
		return 0, errors.Join(ErrDisconnected, err)
	}
	n, err := s.conn.Read(buf)
	if err != nil {
		if isWouldBlock(err) {
			return n, nil
		}
		return n, errors.Join(ErrDisconnected, err)
	}
	return n, nil
}

// ReadPackets drains previously parsed packets first, then advances the read
// state machine until either batchSize packets have been produced, a read
// would block, or a fatal error/timeout occurs.
func (s *Socket) ReadPackets(batchSize int) ([]mqttv5.Packet, Stats, error) {
	var out []mqttv5.Packet
	var stats Stats

	if len(s.pending) > 0 {
		take := len(s.pending)
		if take > batchSize {
			take = batchSize
		}
		out = append(out, s.pending[:take]...)
		s.pending = s.pending[take:]
		stats.Packets += take
		if len(out) >= batchSize {
			return out, stats, nil
		}
	}

	for len(out) < batchSize {
		progressed, n, err := s.advanceRead()
		stats.Bytes += n
		if err != nil {
			return out, stats, err
		}
		if !progressed {
			return out, stats, nil
		}
		if s.readState == ReadFin {
			pkt, err := mqttv5.Decode(s.fh, s.readBuf)
			s.readState = ReadInit
			s.readBuf = nil
			s.readDeadlineArmed = false
			if err != nil {
				// A malformed/protocol-error packet is surfaced to the
				// session as a decode failure; the caller (Miot) maps it
				// to the DISCONNECT reason and tears the session down. It
				// is not an I/O error, so it does not imply Disconnected.
				return out, stats, err
			}
			out = append(out, pkt)
			stats.Packets++
		}
	}
	return out, stats, nil
}

// advanceRead performs exactly one step of the read state machine. It
// returns progressed=false when the underlying read would block with no
// state transition to report yet.
func (s *Socket) advanceRead() (progressed bool, n int, err error) {
	switch s.readState {
	case ReadInit:
		var b [1]byte
		n, err = s.readSome(b[:])
		if err != nil {
			return false, n, err
		}
		if n == 0 {
			s.armReadTimeout()
			if s.readTimedOut() {
				return false, 0, ErrReadTimeout
			}
			return false, 0, nil
		}
		s.readBuf = append(s.readBuf[:0], b[0])
		s.readState = ReadHeader
		return true, n, nil

	case ReadHeader:
		var b [1]byte
		n, err = s.readSome(b[:])
		if err != nil {
			return false, n, err
		}
		if n == 0 {
			s.armReadTimeout()
			if s.readTimedOut() {
				return false, 0, ErrReadTimeout
			}
			return false, 0, nil
		}
		s.readBuf = append(s.readBuf, b[0])
		// The varint's own continuation bit tells us whether more length
		// bytes are coming; we never hand a partial varint to the codec.
		if b[0]&0x80 != 0 {
			if len(s.readBuf)-1 >= 4 {
				return false, n, &mqttv5.CodecError{Kind: mqttv5.MalformedPacket, Reason: mqttv5.ReasonMalformedPacket, Msg: "varint uses more than 4 bytes"}
			}
			return true, n, nil
		}
		fh, consumed, err := mqttv5.DecodeFixedHeader(s.readBuf)
		if err != nil {
			return false, n, err
		}
		s.fh = fh
		s.readBuf = s.readBuf[consumed:]
		if fh.RemainingLen == 0 {
			s.readState = ReadFin
		} else {
			s.readState = ReadRemain
		}
		return true, n, nil

	case ReadRemain:
		need := int(s.fh.RemainingLen) - len(s.readBuf)
		buf := make([]byte, need)
		n, err = s.readSome(buf)
		if err != nil {
			return false, n, err
		}
		if n == 0 {
			s.armReadTimeout()
			if s.readTimedOut() {
				return false, 0, ErrReadTimeout
			}
			return false, 0, nil
		}
		s.readBuf = append(s.readBuf, buf[:n]...)
		if len(s.readBuf) >= int(s.fh.RemainingLen) {
			s.readState = ReadFin
		}
		return true, n, nil

	default: // ReadFin is handled by the caller before advanceRead is called again
		return true, 0, nil
	}
}

func (s *Socket) armReadTimeout() {
	if s.readDeadlineArmed {
		return
	}
	s.readDeadlineArmed = true
	s.readDeadlineAt = time.Now().Add(s.readTimeout)
}

func (s *Socket) readTimedOut() bool {
	return s.readDeadlineArmed && s.readTimeout > 0 && time.Now().After(s.readDeadlineAt)
}

// WritePackets encodes and writes every packet of outbound, in order. A
// packet that fails to encode is logged and skipped so one bad packet cannot
// stall the connection. Each packet is written in full before the next one:
// writeAll keeps retrying through would-block turns, so a full kernel send
// buffer does not end the call early. The write-side state (writeState,
// writeBuf, writeOff) is not used.
func (s *Socket) WritePackets(outbound []mqttv5.Packet) (Stats, error) {
	var stats Stats

	for _, pkt := range outbound {
		wire, err := pkt.Encode()
		if err != nil {
			log.Printf("socket: dropping packet that failed to encode: %v", err)
			continue
		}
		if err := s.writeAll(wire); err != nil {
			return stats, err
		}
		stats.Bytes += len(wire)
		stats.Packets++
	}
	return stats, nil
}

// writeAll pushes buf to the kernel, looping through would-block turns until
// every byte is accepted or a fatal error occurs.
func (s *Socket) writeAll(buf []byte) error {
	off := 0
	for off < len(buf) {
		if err := s.conn.SetWriteDeadline(time.Now().Add(5 * time.Millisecond)); err != nil {
			return errors.Join(ErrDisconnected, err)
		}
		n, err := s.conn.Write(buf[off:])
		off += n
		if err != nil {
			if isWouldBlock(err) {
				continue
			}
			return errors.Join(ErrDisconnected, err)
		}
	}
	return nil
}
