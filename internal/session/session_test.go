package session

import (
	"testing"
	"time"

	"github.com/poonai/mymq/internal/message"
	"github.com/poonai/mymq/internal/mqttv5"
)

func TestAdmitInboundIndexesCallerSeqno(t *testing.T) {
	s := New("c1", 0, 10)
	p1 := &mqttv5.PublishPacket{QoS: mqttv5.QoS1, PacketID: 1, Topic: "a"}
	p2 := &mqttv5.PublishPacket{QoS: mqttv5.QoS1, PacketID: 2, Topic: "a"}

	s.AdmitInbound(p1, 1)
	s.AdmitInbound(p2, 2)
	if len(s.Inp.Index) != 2 {
		t.Fatalf("expected both QoS1 publishes indexed, got %d", len(s.Inp.Index))
	}
	if s.Inp.Index[1].Seqno >= s.Inp.Index[2].Seqno {
		t.Fatalf("expected strictly increasing seqno, got %d then %d", s.Inp.Index[1].Seqno, s.Inp.Index[2].Seqno)
	}
}

func TestAllocatePacketIDSkipsInflight(t *testing.T) {
	s := New("c1", 0, 10)
	s.Out.Inflight[1] = &OutboundEntry{}
	s.Out.Inflight[2] = &OutboundEntry{}

	id, ok := s.AllocatePacketID()
	if !ok || id != 3 {
		t.Fatalf("expected id 3, got %d ok=%v", id, ok)
	}
}

func TestReceiveMaximumCapsInflight(t *testing.T) {
	s := New("c1", 0, 2)
	for i := 0; i < 5; i++ {
		s.Enqueue(&mqttv5.PublishPacket{QoS: mqttv5.QoS1, Topic: "a"})
	}
	ready := s.Flush()
	if len(ready) != 2 {
		t.Fatalf("expected exactly 2 flushed under receive_maximum=2, got %d", len(ready))
	}
	if len(s.Out.BackLog) != 3 {
		t.Fatalf("expected 3 remaining in backlog, got %d", len(s.Out.BackLog))
	}

	if !s.AcknowledgeOutbound(mqttv5.PUBACK, ready[0].PacketID) {
		t.Fatal("expected first packet id to be recognized")
	}
	more := s.Flush()
	if len(more) != 1 {
		t.Fatalf("expected exactly 1 more flushed after a PUBACK freed a slot, got %d", len(more))
	}
}

func TestQoS2PhaseTransitions(t *testing.T) {
	s := New("c1", 0, 10)
	s.Enqueue(&mqttv5.PublishPacket{QoS: mqttv5.QoS2, Topic: "a"})
	ready := s.Flush()
	if len(ready) != 1 {
		t.Fatalf("expected 1 flushed, got %d", len(ready))
	}
	id := ready[0].PacketID
	if s.Out.Inflight[id].Phase != PhaseAwaitPubRec {
		t.Fatalf("expected AwaitPubRec, got %v", s.Out.Inflight[id].Phase)
	}
	s.AcknowledgeOutbound(mqttv5.PUBREC, id)
	if s.Out.Inflight[id].Phase != PhaseAwaitPubComp {
		t.Fatalf("expected AwaitPubComp, got %v", s.Out.Inflight[id].Phase)
	}
	s.AcknowledgeOutbound(mqttv5.PUBCOMP, id)
	if _, stillThere := s.Out.Inflight[id]; stillThere {
		t.Fatal("expected inflight entry retired after PUBCOMP")
	}
}

func TestBackLogHardCapDisconnects(t *testing.T) {
	s := New("c1", 0, 1)
	s.BackLogHardCap = 2
	for i := 0; i < 2; i++ {
		if err := s.Enqueue(&mqttv5.PublishPacket{QoS: mqttv5.QoS1, Topic: "a"}); err != nil {
			t.Fatalf("unexpected error enqueuing within cap: %v", err)
		}
	}
	if err := s.Enqueue(&mqttv5.PublishPacket{QoS: mqttv5.QoS1, Topic: "a"}); err != ErrBackLogExceeded {
		t.Fatalf("expected ErrBackLogExceeded, got %v", err)
	}
}

func TestKeepAliveExpired(t *testing.T) {
	s := New("c1", 0, 10)
	s.KeepAlive = 2 * time.Second
	now := time.Now()
	s.TouchActivity(now)

	if s.KeepAliveExpired(now.Add(2 * time.Second)) {
		t.Fatal("expected 1.5x window (3s) to tolerate a 2s gap")
	}
	if !s.KeepAliveExpired(now.Add(4 * time.Second)) {
		t.Fatal("expected a 4s gap to exceed the 3s (1.5x) window")
	}
}

func TestKeepAliveZeroDisablesCheck(t *testing.T) {
	s := New("c1", 0, 10)
	s.TouchActivity(time.Now())
	if s.KeepAliveExpired(time.Now().Add(24 * time.Hour)) {
		t.Fatal("expected KeepAlive == 0 to disable the timeout check entirely")
	}
}

func TestEvictAckedRequiresAllPeersAtLeastSeqno(t *testing.T) {
	s := New("c1", 0, 10)
	pkt := &mqttv5.PublishPacket{QoS: mqttv5.QoS1, PacketID: 1, Topic: "a"}
	var seqno message.InpSeqno = 5
	s.AdmitInbound(pkt, seqno)

	s.RecordPeerAck(message.ShardID(0), seqno, time.Now())
	s.RecordPeerAck(message.ShardID(1), seqno-1, time.Now())
	if evicted := s.EvictAcked(); len(evicted) != 0 {
		t.Fatalf("expected no eviction until every peer has acked, got %v", evicted)
	}

	s.RecordPeerAck(message.ShardID(1), seqno, time.Now())
	evicted := s.EvictAcked()
	if len(evicted) != 1 {
		t.Fatalf("expected the publish to be evicted once both peers acked, got %v", evicted)
	}
}
