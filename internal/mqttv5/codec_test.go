package mqttv5

import (
	"bytes"
	"testing"
)

func TestVarU32RoundTrip(t *testing.T) {
	cases := []VarU32{0, 127, 128, 16383, 16384, 2097151, 2097152, 268435455}
	for _, v := range cases {
		enc, err := EncodeVarU32(nil, v)
		if err != nil {
			t.Fatalf("encode %d: %v", v, err)
		}
		got, n, err := DecodeVarU32(enc)
		if err != nil {
			t.Fatalf("decode %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %d: got %d", v, got)
		}
		if n != len(enc) {
			t.Fatalf("round trip %d: consumed %d of %d bytes", v, n, len(enc))
		}
	}
}

func TestVarU32TooLarge(t *testing.T) {
	if _, err := EncodeVarU32(nil, MaxVarU32+1); err == nil {
		t.Fatal("expected error encoding 268435456")
	}
}

func TestVarU32MoreThanFourBytes(t *testing.T) {
	src := []byte{0xff, 0xff, 0xff, 0xff, 0x01}
	if _, _, err := DecodeVarU32(src); err == nil {
		t.Fatal("expected error decoding a 5-byte varint")
	}
}

func decodeRoundTrip(t *testing.T, pkt Packet) Packet {
	t.Helper()
	wire, err := pkt.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fh, n, err := DecodeFixedHeader(wire)
	if err != nil {
		t.Fatalf("decode fixed header: %v", err)
	}
	body := wire[n : n+int(fh.RemainingLen)]
	got, err := Decode(fh, body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return got
}

func TestConnectRoundTrip(t *testing.T) {
	recvMax := uint16(20)
	pkt := &ConnectPacket{
		ProtocolName:    "MQTT",
		ProtocolVersion: 5,
		CleanStart:      true,
		KeepAlive:       30,
		ClientID:        "client-1",
		Properties:      Properties{ReceiveMaximum: &recvMax},
		HasUsername:     true,
		Username:        "alice",
	}
	got := decodeRoundTrip(t, pkt).(*ConnectPacket)
	if got.ClientID != pkt.ClientID || got.KeepAlive != pkt.KeepAlive || !got.CleanStart {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Properties.ReceiveMaximum == nil || *got.Properties.ReceiveMaximum != recvMax {
		t.Fatalf("receive maximum not preserved: %+v", got.Properties)
	}
	if !got.HasUsername || got.Username != "alice" {
		t.Fatalf("username not preserved: %+v", got)
	}
}

func TestConnectReceiveMaximumZeroIsProtocolError(t *testing.T) {
	zero := uint16(0)
	pkt := &ConnectPacket{ProtocolName: "MQTT", ProtocolVersion: 5, ClientID: "c", Properties: Properties{ReceiveMaximum: &zero}}
	wire, err := pkt.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fh, n, err := DecodeFixedHeader(wire)
	if err != nil {
		t.Fatalf("decode fixed header: %v", err)
	}
	_, err = Decode(fh, wire[n:n+int(fh.RemainingLen)])
	ce, ok := AsCodecError(err)
	if !ok || ce.Kind != ProtocolError {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestPublishRoundTrip(t *testing.T) {
	pkt := &PublishPacket{
		QoS:      QoS1,
		Topic:    "a/b/c",
		PacketID: 42,
		Payload:  []byte("hello"),
	}
	got := decodeRoundTrip(t, pkt).(*PublishPacket)
	if got.Topic != pkt.Topic || got.PacketID != pkt.PacketID || !bytes.Equal(got.Payload, pkt.Payload) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestPublishDupOnQoS0Rejected(t *testing.T) {
	flags := byte(0x08) // dup set, qos 0, retain 0
	body := []byte{0x00, 0x01, 'a'} // topic "a", no packet id, no properties, no payload
	if _, err := DecodePublish(flags, len(body), body); err == nil {
		t.Fatal("expected error for dup set on qos0 publish")
	}
}

func TestPublishEmptyTopicRejected(t *testing.T) {
	body := []byte{0x00, 0x00, 0x00} // empty topic, empty properties
	if _, err := DecodePublish(0, len(body), body); err == nil {
		t.Fatal("expected error for empty publish topic")
	}
}

func TestPubAckFamilyShortForm(t *testing.T) {
	pkt := &PubAckFamily{PacketType: PUBACK, PacketID: 7, ReasonCode: ReasonSuccess}
	wire, err := pkt.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(wire) != 4 {
		t.Fatalf("expected 4-byte short-form PUBACK, got %d bytes", len(wire))
	}
	got := decodeRoundTrip(t, pkt).(*PubAckFamily)
	if got.PacketID != 7 || got.ReasonCode != ReasonSuccess {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestPubRelRejectsNonSuccessNonPacketIdNotFound(t *testing.T) {
	pkt := &PubAckFamily{PacketType: PUBREL, PacketID: 1, ReasonCode: ReasonNotAuthorized}
	if _, err := pkt.Encode(); err == nil {
		t.Fatal("expected error for invalid PUBREL reason code")
	}
}

func TestPubAckRejectsPacketIdNotFound(t *testing.T) {
	pkt := &PubAckFamily{PacketType: PUBACK, PacketID: 1, ReasonCode: ReasonPacketIdNotFound}
	if _, err := pkt.Encode(); err == nil {
		t.Fatal("expected error: PUBACK must not report PacketIdNotFound")
	}
}

func TestSubscribeRoundTrip(t *testing.T) {
	pkt := &SubscribePacket{
		PacketID: 5,
		Subscriptions: []Subscription{
			{Filter: "a/+", QoS: QoS1, RetainHandling: RetainSendIfNewSub},
			{Filter: "a/#", QoS: QoS2, NoLocal: true},
		},
	}
	got := decodeRoundTrip(t, pkt).(*SubscribePacket)
	if len(got.Subscriptions) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(got.Subscriptions))
	}
	if got.Subscriptions[0].Filter != "a/+" || got.Subscriptions[0].QoS != QoS1 {
		t.Fatalf("subscription 0 mismatch: %+v", got.Subscriptions[0])
	}
	if !got.Subscriptions[1].NoLocal {
		t.Fatalf("subscription 1 NoLocal not preserved: %+v", got.Subscriptions[1])
	}
}

func TestSubscribeRejectsReservedOptionBits(t *testing.T) {
	body := []byte{0x00, 0x01, 0x00, 0x00, 0x01, 'a', 0xc0}
	if _, err := DecodeSubscribe(len(body), body); err == nil {
		t.Fatal("expected error for reserved subscription option bits")
	}
}

func TestSubscribeRejectsBadRetainHandling(t *testing.T) {
	body := []byte{0x00, 0x01, 0x00, 0x00, 0x01, 'a', 0x30}
	if _, err := DecodeSubscribe(len(body), body); err == nil {
		t.Fatal("expected error for retain handling value 3")
	}
}

func TestSubscribeRejectsEmptyFilterList(t *testing.T) {
	body := []byte{0x00, 0x01, 0x00}
	if _, err := DecodeSubscribe(len(body), body); err == nil {
		t.Fatal("expected error for subscribe with no filters")
	}
}

func TestUnsubscribeRoundTrip(t *testing.T) {
	pkt := &UnsubscribePacket{PacketID: 9, TopicFilters: []string{"x/y", "x/z"}}
	got := decodeRoundTrip(t, pkt).(*UnsubscribePacket)
	if len(got.TopicFilters) != 2 || got.TopicFilters[1] != "x/z" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestPingreqPingrespRoundTrip(t *testing.T) {
	if got := decodeRoundTrip(t, &PingreqPacket{}); got.Type() != PINGREQ {
		t.Fatalf("expected PINGREQ, got %v", got.Type())
	}
	if got := decodeRoundTrip(t, &PingrespPacket{}); got.Type() != PINGRESP {
		t.Fatalf("expected PINGRESP, got %v", got.Type())
	}
}

func TestDisconnectEmptyFormRoundTrip(t *testing.T) {
	pkt := &DisconnectPacket{ReasonCode: ReasonNormalDisconnection}
	wire, err := pkt.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(wire) != 2 {
		t.Fatalf("expected 2-byte empty-form DISCONNECT, got %d bytes", len(wire))
	}
	got := decodeRoundTrip(t, pkt).(*DisconnectPacket)
	if got.ReasonCode != ReasonNormalDisconnection {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDisconnectWithReasonRoundTrip(t *testing.T) {
	pkt := &DisconnectPacket{ReasonCode: ReasonServerShuttingDown}
	got := decodeRoundTrip(t, pkt).(*DisconnectPacket)
	if got.ReasonCode != ReasonServerShuttingDown {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestAuthRequiresAuthenticationMethod(t *testing.T) {
	props, err := (&Properties{}).encode(nil)
	if err != nil {
		t.Fatalf("encode empty properties: %v", err)
	}
	body := append([]byte{byte(ReasonContinueAuthentication)}, props...)
	if _, err := DecodeAuth(len(body), body); err == nil {
		t.Fatal("expected error for auth packet missing authentication method")
	}
}

func TestFixedHeaderRejectsOutOfRangeType(t *testing.T) {
	src := []byte{0x00, 0x00} // type 0 is reserved, not a valid packet type
	if _, _, err := DecodeFixedHeader(src); err == nil {
		t.Fatal("expected error for packet type 0")
	}
}
