package mqttv5

import "unicode/utf8"

// PublishPacket is the MQTT v5 PUBLISH control packet. PacketID is only
// meaningful when QoS > 0.
type PublishPacket struct {
	Dup      bool
	QoS      QoS
	Retain   bool
	Topic    string
	PacketID uint16
	Properties Properties
	Payload  []byte
}

func (p *PublishPacket) Type() PacketType { return PUBLISH }

// DecodePublish decodes a PUBLISH packet body given the fixed header's
// flags (Dup/QoS/Retain live there, not in the body) and remaining length.
func DecodePublish(flags byte, remaining int, body []byte) (*PublishPacket, error) {
	p := &PublishPacket{
		Dup:    flags&0x08 != 0,
		QoS:    QoS((flags & 0x06) >> 1),
		Retain: flags&0x01 != 0,
	}
	if p.QoS > QoS2 {
		return nil, newMalformed("publish qos out of range")
	}
	if p.QoS == QoS0 && p.Dup {
		return nil, newMalformed("dup set on qos0 publish")
	}

	topic, off, err := readString(body, 0)
	if err != nil {
		return nil, err
	}
	if len(topic) == 0 {
		return nil, newMalformed("empty publish topic")
	}
	p.Topic = topic

	if p.QoS > QoS0 {
		id, o, err := readUint16(body, off)
		if err != nil {
			return nil, err
		}
		if id == 0 {
			return nil, newMalformed("publish packet id is 0")
		}
		off = o
		p.PacketID = id
	}

	props, off, err := decodeProperties(body, off)
	if err != nil {
		return nil, err
	}
	p.Properties = props

	if props.PayloadFormatIndicator != nil && *props.PayloadFormatIndicator == 1 {
		if !utf8.Valid(body[off:]) {
			return nil, &CodecError{Kind: MalformedPacket, Reason: ReasonPayloadFormatInvalid, Msg: "payload declared UTF-8 but is not"}
		}
	}

	p.Payload = append([]byte(nil), body[off:]...)
	return p, nil
}

func (p *PublishPacket) Encode() ([]byte, error) {
	if p.QoS > QoS2 {
		return nil, newProtocolError("publish qos out of range")
	}
	var flags byte
	if p.Dup {
		flags |= 0x08
	}
	flags |= byte(p.QoS) << 1
	if p.Retain {
		flags |= 0x01
	}

	var body []byte
	body = writeString(body, p.Topic)
	if p.QoS > QoS0 {
		body = writeUint16(body, p.PacketID)
	}
	var err error
	body, err = p.Properties.encode(body)
	if err != nil {
		return nil, err
	}
	body = append(body, p.Payload...)

	return finishPacket(PUBLISH, flags, body)
}
