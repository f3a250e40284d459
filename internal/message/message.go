// Package message defines the inter-shard envelope and sequencing types
// shared by internal/session, internal/shard and internal/cluster. Keeping
// these types in their own package avoids a session<->shard import cycle:
// both sides need the same four-variant Message sum without either owning
// the other.
package message

import "github.com/poonai/mymq/internal/mqttv5"

// InpSeqno is the per-shard monotonic sequence number assigned to an
// inbound PUBLISH when it is admitted from a client.
type InpSeqno uint64

// OutSeqno is the per-session monotonic sequence number assigned to a
// PUBLISH queued toward that session's client.
type OutSeqno uint64

// ShardID identifies one shard in [0, num_shards).
type ShardID uint32

// Kind tags which of the four Message variants a value holds.
type Kind int

const (
	KindClientAck Kind = iota
	KindRouted
	KindPacket
	KindLocalAck
)

// Subscription is one destination subscriber's (filter match) detail,
// carried inside a Routed message. QoS is the already-downgraded level the
// receiving shard delivers at. The routing shard fills in only ClientID and
// QoS; SubscriptionID and RetainAsPublished are left unset, so no
// SubscriptionIdentifier is forwarded to the subscriber.
type Subscription struct {
	ClientID             string
	QoS                  mqttv5.QoS
	SubscriptionID       *mqttv5.VarU32
	RetainAsPublished    bool
}

// Message is a tagged sum of four variants. Exactly one of the following
// groups of fields is meaningful, selected by Kind:
//
//   - KindClientAck: Packet, DestClientID
//   - KindRouted: SrcClientID, SrcShardID, InpSeqno, PacketID, Publish, Subscriptions
//   - KindPacket: OutSeqno, Publish, DestClientID
//   - KindLocalAck: ShardID, LastAcked
//
// A Message of KindRouted or KindLocalAck must never reach a socket encode
// path; only ClientAck and Packet carry a wire packet at all.
type Message struct {
	Kind Kind

	// ClientAck
	Packet mqttv5.Packet

	// Routed
	SrcClientID   string
	SrcShardID    ShardID
	Subscriptions []Subscription

	// Routed (shared with Packet)
	PacketID *uint16
	Publish  *mqttv5.PublishPacket

	// Packet (DestClientID also addresses a ClientAck)
	OutSeqno     OutSeqno
	DestClientID string

	// InpSeqno belongs to Routed; ShardID and LastAcked to LocalAck
	InpSeqno InpSeqno
	ShardID  ShardID
	LastAcked InpSeqno
}

// IntoPacket extracts the wire packet a ClientAck or Packet message carries.
// It panics for Routed and LocalAck, since those variants never reach the
// socket — callers MUST only invoke this once Kind has been checked.
func (m Message) IntoPacket() mqttv5.Packet {
	switch m.Kind {
	case KindClientAck:
		return m.Packet
	case KindPacket:
		return m.Publish
	default:
		panic("message: IntoPacket called on a Routed or LocalAck message")
	}
}
