package cluster

import (
	"net"
	"testing"
	"time"

	"github.com/poonai/mymq/internal/mqttv5"
	"github.com/poonai/mymq/internal/rebalance"
	"github.com/poonai/mymq/internal/shard"
)

func fastTestConfig() Config {
	cfg := DefaultConfig
	cfg.NumShards = 2
	cfg.Shard = shard.DefaultConfig
	cfg.Shard.LocalAckEvery = 5 * time.Millisecond
	cfg.KeepAliveCheckEvery = 20 * time.Millisecond
	cfg.FlushEvery = 5 * time.Millisecond
	return cfg
}

func dialAndConnect(t *testing.T, addr string, clientID string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	wire, err := (&mqttv5.ConnectPacket{ProtocolName: "MQTT", ProtocolVersion: 5, CleanStart: true, KeepAlive: 30, ClientID: clientID}).Encode()
	if err != nil {
		t.Fatalf("encode connect: %v", err)
	}
	if _, err := conn.Write(wire); err != nil {
		t.Fatalf("write connect: %v", err)
	}
	return conn
}

func readPacket(t *testing.T, conn net.Conn, timeout time.Duration) mqttv5.Packet {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var hdr [1]byte
	if _, err := conn.Read(hdr[:]); err != nil {
		t.Fatalf("read fixed header byte: %v", err)
	}
	buf := []byte{hdr[0]}
	var remaining int
	shift := 0
	for {
		var b [1]byte
		if _, err := conn.Read(b[:]); err != nil {
			t.Fatalf("read remaining length: %v", err)
		}
		buf = append(buf, b[0])
		remaining |= int(b[0]&0x7f) << shift
		if b[0]&0x80 == 0 {
			break
		}
		shift += 7
	}
	body := make([]byte, remaining)
	total := 0
	for total < remaining {
		n, err := conn.Read(body[total:])
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		total += n
	}
	fh, _, err := mqttv5.DecodeFixedHeader(buf)
	if err != nil {
		t.Fatalf("decode fixed header: %v", err)
	}
	pkt, err := mqttv5.Decode(fh, body)
	if err != nil {
		t.Fatalf("decode packet: %v", err)
	}
	return pkt
}

func TestClusterAcceptsConnectionAndSendsConnack(t *testing.T) {
	c := New(fastTestConfig(), rebalance.SingleNode{})
	if err := c.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close()

	addr := c.Addr()
	conn := dialAndConnect(t, addr, "client-a")
	defer conn.Close()

	pkt := readPacket(t, conn, 2*time.Second)
	ack, ok := pkt.(*mqttv5.ConnackPacket)
	if !ok {
		t.Fatalf("expected ConnackPacket, got %T", pkt)
	}
	if ack.ReasonCode != mqttv5.ReasonSuccess {
		t.Fatalf("expected ReasonSuccess, got %v", ack.ReasonCode)
	}
}

func TestClusterDeliversPublishAcrossShards(t *testing.T) {
	c := New(fastTestConfig(), rebalance.SingleNode{})
	if err := c.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Close()

	addr := c.Addr()

	subConn := dialAndConnect(t, addr, "subscriber")
	defer subConn.Close()
	readPacket(t, subConn, 2*time.Second) // CONNACK

	subWire, err := (&mqttv5.SubscribePacket{PacketID: 1, Subscriptions: []mqttv5.Subscription{{Filter: "room/x", QoS: mqttv5.QoS1}}}).Encode()
	if err != nil {
		t.Fatalf("encode subscribe: %v", err)
	}
	if _, err := subConn.Write(subWire); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	readPacket(t, subConn, 2*time.Second) // SUBACK

	pubConn := dialAndConnect(t, addr, "pub-1")
	defer pubConn.Close()
	readPacket(t, pubConn, 2*time.Second) // CONNACK

	pubWire, err := (&mqttv5.PublishPacket{QoS: mqttv5.QoS1, PacketID: 1, Topic: "room/x", Payload: []byte("hello")}).Encode()
	if err != nil {
		t.Fatalf("encode publish: %v", err)
	}
	if _, err := pubConn.Write(pubWire); err != nil {
		t.Fatalf("write publish: %v", err)
	}

	// With two shards SingleNode places "subscriber" on shard 1 and "pub-1"
	// on shard 0, so delivery crosses the inter-shard Routed path.
	pkt := readPacket(t, subConn, 2*time.Second)
	pub, ok := pkt.(*mqttv5.PublishPacket)
	if !ok {
		t.Fatalf("expected PublishPacket delivered to subscriber, got %T", pkt)
	}
	if pub.Topic != "room/x" || string(pub.Payload) != "hello" {
		t.Fatalf("unexpected routed publish: %+v", pub)
	}
}
