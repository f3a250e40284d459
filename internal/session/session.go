// Package session implements the per-client state machine: inbound/outbound
// sequence windows, packet-id allocation that
// skips ids still in flight, the receive_maximum flow-control cap (enforced
// with a golang.org/x/sync/semaphore weighted semaphore, one token per
// concurrently-unacked outbound QoS>0 message), and the QoS1/QoS2
// acknowledgement phase map.
package session

import (
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/poonai/mymq/internal/message"
	"github.com/poonai/mymq/internal/mqttv5"
	"github.com/poonai/mymq/internal/topicindex"
)

// State is a Session's lifecycle stage.
type State int

const (
	Accepting State = iota
	Active
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Accepting:
		return "Accepting"
	case Active:
		return "Active"
	case Reconnecting:
		return "Reconnecting"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Phase tracks where a QoS2 PUBLISH is in the four-way handshake.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseAwaitPubRec
	PhaseAwaitPubComp
)

// DefaultReceiveMaximum is used when a CONNECT omits ReceiveMaximum; the
// MQTT v5 default is 65535.
const DefaultReceiveMaximum = 65535

// PeerAck is the last cumulative acknowledgement a peer shard has reported
// for PUBLISHes this session's client sent inbound through it.
type PeerAck struct {
	LastAcked message.InpSeqno
	At        time.Time
}

// InboundEntry is what ClientInp.Index retains for one still-unacknowledged
// inbound QoS>0 PUBLISH: enough to re-emit the eventual PUBACK/PUBREC.
type InboundEntry struct {
	Seqno   message.InpSeqno
	QoS     mqttv5.QoS
	Topic   string
}

// ClientInp holds the inbound (client -> broker) sequencing state. InpSeqno
// itself is not tracked here: it is a single counter shared by every session
// a shard hosts (see Shard.nextInpSeqno), not a per-client sequence.
type ClientInp struct {
	Index     map[uint16]InboundEntry
	PeerAcks  map[message.ShardID]PeerAck
}

// OutboundEntry is one message this session owns on the way to its client.
type OutboundEntry struct {
	Seqno   message.OutSeqno
	Publish *mqttv5.PublishPacket
	Phase   Phase
}

// ClientOut holds the outbound (broker -> client) sequencing state.
type ClientOut struct {
	Seqno        message.OutSeqno
	NextPacketID uint16
	Inflight     map[uint16]*OutboundEntry
	BackLog      []*mqttv5.PublishPacket
}

// Subscription is a client's live subscription.
type Subscription struct {
	Filter            string
	QoS               mqttv5.QoS
	NoLocal           bool
	RetainAsPublished bool
	SubscriptionID    *mqttv5.VarU32
}

// Will is the configured last-will message, set at CONNECT time.
type Will struct {
	Properties mqttv5.Properties
	Topic      string
	Payload    []byte
	QoS        mqttv5.QoS
	Retain     bool
}

// BackLogHardCap is the maximum number of PUBLISHes allowed to queue in
// ClientOut.BackLog before the client is disconnected with QuotaExceeded.
// Every session starts with it in its BackLogHardCap field; Shard does not
// change that field, and no configuration value reaches it.
const BackLogHardCap = 4096

// ErrBackLogExceeded is returned by Enqueue when accepting msg would push
// BackLog past its hard cap.
var ErrBackLogExceeded = fmt.Errorf("session: backlog hard cap exceeded")

// Session is the per-client broker entity.
type Session struct {
	ClientID       string
	ShardID        message.ShardID
	State          State
	ReceiveMaximum uint16

	// KeepAlive is the CONNECT-negotiated interval; LastActivity is bumped
	// on every inbound packet. A shard's housekeeping ticker disconnects a
	// session with ReasonKeepAliveTimeout once 1.5x KeepAlive elapses since
	// LastActivity, per the MQTT v5 keep-alive contract.
	KeepAlive    time.Duration
	LastActivity time.Time

	Inp ClientInp
	Out ClientOut

	Subscriptions map[string]Subscription
	Will          *Will

	BackLogHardCap int

	recvWindow *semaphore.Weighted
}

// New creates a fresh session in the Accepting state.
func New(clientID string, shardID message.ShardID, receiveMaximum uint16) *Session {
	if receiveMaximum == 0 {
		receiveMaximum = DefaultReceiveMaximum
	}
	return &Session{
		ClientID:       clientID,
		ShardID:        shardID,
		State:          Accepting,
		ReceiveMaximum: receiveMaximum,
		Inp: ClientInp{
			Index:    make(map[uint16]InboundEntry),
			PeerAcks: make(map[message.ShardID]PeerAck),
		},
		Out: ClientOut{
			NextPacketID: 1,
			Inflight:     make(map[uint16]*OutboundEntry),
		},
		Subscriptions:  make(map[string]Subscription),
		BackLogHardCap: BackLogHardCap,
		recvWindow:     semaphore.NewWeighted(int64(receiveMaximum)),
	}
}

// TouchActivity records that a packet was just received from this
// session's client, resetting its keep-alive timeout window.
func (s *Session) TouchActivity(at time.Time) {
	s.LastActivity = at
}

// KeepAliveExpired reports whether this session has gone silent for longer
// than 1.5x its negotiated KeepAlive. A zero KeepAlive disables the check
// (CONNECT may legally omit keep-alive).
func (s *Session) KeepAliveExpired(now time.Time) bool {
	if s.KeepAlive == 0 || s.LastActivity.IsZero() {
		return false
	}
	return now.Sub(s.LastActivity) > (s.KeepAlive * 3 / 2)
}

// AdmitInbound records seqno — already assigned by the owning shard's single
// per-shard InpSeqno counter — against an inbound QoS>0 PUBLISH, keyed by its
// PacketID, so the session can later emit the matching PUBACK/PUBREC once
// every peer shard's LocalAck has passed seqno. Callers must not call this
// for QoS0 publishes (they carry no PacketID and generate no PUBACK-family
// response).
func (s *Session) AdmitInbound(pkt *mqttv5.PublishPacket, seqno message.InpSeqno) {
	if pkt.QoS > mqttv5.QoS0 {
		s.Inp.Index[pkt.PacketID] = InboundEntry{Seqno: seqno, QoS: pkt.QoS, Topic: pkt.Topic}
	}
}

// RecordPeerAck updates the cumulative LocalAck this session has received
// from shardID.
func (s *Session) RecordPeerAck(shardID message.ShardID, lastAcked message.InpSeqno, at time.Time) {
	cur, ok := s.Inp.PeerAcks[shardID]
	if ok && cur.LastAcked >= lastAcked {
		return
	}
	s.Inp.PeerAcks[shardID] = PeerAck{LastAcked: lastAcked, At: at}
}

// MinLastAcked returns the minimum LastAcked across every known peer shard.
// If no peer acks have arrived yet, it returns 0 (nothing is eligible for
// eviction).
func (s *Session) MinLastAcked() message.InpSeqno {
	if len(s.Inp.PeerAcks) == 0 {
		return 0
	}
	var min message.InpSeqno
	first := true
	for _, pa := range s.Inp.PeerAcks {
		if first || pa.LastAcked < min {
			min = pa.LastAcked
			first = false
		}
	}
	return min
}

// EvictAcked removes every ClientInp.Index entry whose Seqno is <= the
// current MinLastAcked and returns the (packetID, entry) pairs so the
// caller can emit their PUBACK/PUBREC.
func (s *Session) EvictAcked() map[uint16]InboundEntry {
	min := s.MinLastAcked()
	if min == 0 {
		return nil
	}
	evicted := make(map[uint16]InboundEntry)
	for id, entry := range s.Inp.Index {
		if entry.Seqno <= min {
			evicted[id] = entry
			delete(s.Inp.Index, id)
		}
	}
	return evicted
}

// AllocatePacketID returns the next PacketID not currently present in
// Out.Inflight, rolling past ids already in use. It returns false if every
// id in [1,65535] is in flight, which cannot happen while
// len(Inflight) <= ReceiveMaximum <= 65535.
func (s *Session) AllocatePacketID() (uint16, bool) {
	start := s.Out.NextPacketID
	id := start
	for {
		if _, inUse := s.Out.Inflight[id]; !inUse && id != 0 {
			s.Out.NextPacketID = id + 1
			if s.Out.NextPacketID == 0 {
				s.Out.NextPacketID = 1
			}
			return id, true
		}
		id++
		if id == 0 {
			id = 1
		}
		if id == start {
			return 0, false
		}
	}
}

// TryReserveOutboundSlot attempts to reserve one unit of receive_maximum
// capacity for a QoS>0 outbound PUBLISH. It returns false immediately
// (never blocks) if the session is already at capacity, matching the
// non-blocking discipline of the shard event loop.
func (s *Session) TryReserveOutboundSlot() bool {
	return s.recvWindow.TryAcquire(1)
}

// ReleaseOutboundSlot returns one unit of receive_maximum capacity,
// called when a PUBACK (QoS1) or PUBCOMP (QoS2) retires an inflight entry.
func (s *Session) ReleaseOutboundSlot() {
	s.recvWindow.Release(1)
}

// Enqueue appends publish to BackLog, ready for a later Flush. It returns
// ErrBackLogExceeded if doing so would exceed BackLogHardCap.
func (s *Session) Enqueue(publish *mqttv5.PublishPacket) error {
	if len(s.Out.BackLog) >= s.BackLogHardCap {
		return ErrBackLogExceeded
	}
	s.Out.BackLog = append(s.Out.BackLog, publish)
	return nil
}

// Flush moves as many BackLog entries into Inflight as receive_maximum
// capacity allows, assigning each an OutSeqno and a PacketID (QoS>0) or
// leaving QoS0 messages to pass straight through uncounted. It returns the
// PublishPackets ready to hand to the socket, in FIFO order.
func (s *Session) Flush() []*mqttv5.PublishPacket {
	var ready []*mqttv5.PublishPacket
	i := 0
	for ; i < len(s.Out.BackLog); i++ {
		pub := s.Out.BackLog[i]
		if pub.QoS == mqttv5.QoS0 {
			s.Out.Seqno++
			ready = append(ready, pub)
			continue
		}
		if !s.TryReserveOutboundSlot() {
			break
		}
		id, ok := s.AllocatePacketID()
		if !ok {
			s.ReleaseOutboundSlot()
			break
		}
		s.Out.Seqno++
		pub.PacketID = id
		s.Out.Inflight[id] = &OutboundEntry{Seqno: s.Out.Seqno, Publish: pub, Phase: phaseFor(pub.QoS)}
		ready = append(ready, pub)
	}
	s.Out.BackLog = s.Out.BackLog[i:]
	return ready
}

func phaseFor(qos mqttv5.QoS) Phase {
	if qos == mqttv5.QoS2 {
		return PhaseAwaitPubRec
	}
	return PhaseNone
}

// AcknowledgeOutbound processes a PUBACK (QoS1) or PUBREC/PUBCOMP (QoS2)
// received from the client, advancing or retiring the matching Inflight
// entry. It reports whether the packet id was recognized.
func (s *Session) AcknowledgeOutbound(pt mqttv5.PacketType, packetID uint16) bool {
	entry, ok := s.Out.Inflight[packetID]
	if !ok {
		return false
	}
	switch pt {
	case mqttv5.PUBACK:
		delete(s.Out.Inflight, packetID)
		s.ReleaseOutboundSlot()
	case mqttv5.PUBREC:
		entry.Phase = PhaseAwaitPubComp
	case mqttv5.PUBCOMP:
		delete(s.Out.Inflight, packetID)
		s.ReleaseOutboundSlot()
	}
	return true
}

// SubscriptionsMatching returns every live Subscriber record for this
// session's own subscription set matching topic, used when the session
// acts as a publisher checking for a local loop-back subscriber under
// NoLocal rules. The broker-wide match against every session normally goes
// through topicindex.Index.Match directly; this helper exists for local
// no-local filtering.
func (s *Session) SubscriptionsMatching(topic string, idx *topicindex.Index) []topicindex.Subscriber {
	all := idx.Match(topic)
	out := all[:0]
	for _, sub := range all {
		if sub.ClientID == s.ClientID {
			if local, ok := s.Subscriptions[sub.ClientID]; ok && local.NoLocal {
				continue
			}
		}
		out = append(out, sub)
	}
	return out
}
