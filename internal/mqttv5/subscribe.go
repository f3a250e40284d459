package mqttv5

// RetainHandling controls whether retained messages are sent on subscribe.
type RetainHandling byte

const (
	RetainSendAlways         RetainHandling = 0
	RetainSendIfNewSub       RetainHandling = 1
	RetainDoNotSend          RetainHandling = 2
)

// Subscription is one (filter, options) pair inside a SUBSCRIBE packet.
type Subscription struct {
	Filter            string
	QoS               QoS
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    RetainHandling
}

// SubscribePacket is the MQTT v5 SUBSCRIBE control packet.
type SubscribePacket struct {
	PacketID      uint16
	Properties    Properties
	Subscriptions []Subscription
}

func (s *SubscribePacket) Type() PacketType { return SUBSCRIBE }

func DecodeSubscribe(remaining int, body []byte) (*SubscribePacket, error) {
	p := &SubscribePacket{}

	id, off, err := readUint16(body, 0)
	if err != nil {
		return nil, err
	}
	p.PacketID = id

	props, off, err := decodeProperties(body, off)
	if err != nil {
		return nil, err
	}
	if props.SubscriptionIdentifier != nil && *props.SubscriptionIdentifier == 0 {
		return nil, newProtocolError("subscription identifier must not be 0")
	}
	p.Properties = props

	if off >= remaining {
		return nil, newProtocolError("subscribe with no filters")
	}

	for off < remaining {
		filter, o, err := readString(body, off)
		if err != nil {
			return nil, err
		}
		off = o

		opt, o, err := readByte(body, off)
		if err != nil {
			return nil, err
		}
		off = o

		if opt&0xc0 != 0 {
			return nil, newMalformed("subscription option reserved bits set")
		}
		rh := RetainHandling((opt & 0x30) >> 4)
		if rh > RetainDoNotSend {
			return nil, newMalformed("retain handling out of range")
		}
		qos := QoS(opt & 0x03)
		if qos > QoS2 {
			return nil, newMalformed("subscribe qos out of range")
		}

		p.Subscriptions = append(p.Subscriptions, Subscription{
			Filter:            filter,
			QoS:               qos,
			NoLocal:           opt&0x04 != 0,
			RetainAsPublished: opt&0x08 != 0,
			RetainHandling:    rh,
		})
	}
	if len(p.Subscriptions) == 0 {
		return nil, newProtocolError("subscribe with no filters")
	}

	return p, nil
}

func (p *SubscribePacket) Encode() ([]byte, error) {
	if len(p.Subscriptions) == 0 {
		return nil, newProtocolError("subscribe with no filters")
	}
	var body []byte
	body = writeUint16(body, p.PacketID)
	var err error
	body, err = p.Properties.encode(body)
	if err != nil {
		return nil, err
	}
	for _, s := range p.Subscriptions {
		body = writeString(body, s.Filter)
		opt := byte(s.QoS)
		if s.NoLocal {
			opt |= 0x04
		}
		if s.RetainAsPublished {
			opt |= 0x08
		}
		opt |= byte(s.RetainHandling) << 4
		body = append(body, opt)
	}
	return finishPacket(SUBSCRIBE, 0x02, body)
}

// SubackPacket is the MQTT v5 SUBACK control packet.
type SubackPacket struct {
	PacketID    uint16
	Properties  Properties
	ReasonCodes []ReasonCode
}

func (s *SubackPacket) Type() PacketType { return SUBACK }

func DecodeSuback(remaining int, body []byte) (*SubackPacket, error) {
	p := &SubackPacket{}
	id, off, err := readUint16(body, 0)
	if err != nil {
		return nil, err
	}
	p.PacketID = id

	props, off, err := decodeProperties(body, off)
	if err != nil {
		return nil, err
	}
	p.Properties = props

	for off < remaining {
		rc, o, err := readByte(body, off)
		if err != nil {
			return nil, err
		}
		off = o
		p.ReasonCodes = append(p.ReasonCodes, ReasonCode(rc))
	}
	return p, nil
}

func (p *SubackPacket) Encode() ([]byte, error) {
	var body []byte
	body = writeUint16(body, p.PacketID)
	var err error
	body, err = p.Properties.encode(body)
	if err != nil {
		return nil, err
	}
	for _, rc := range p.ReasonCodes {
		body = append(body, byte(rc))
	}
	return finishPacket(SUBACK, 0, body)
}

// UnsubscribePacket is the MQTT v5 UNSUBSCRIBE control packet.
type UnsubscribePacket struct {
	PacketID     uint16
	Properties   Properties
	TopicFilters []string
}

func (u *UnsubscribePacket) Type() PacketType { return UNSUBSCRIBE }

func DecodeUnsubscribe(remaining int, body []byte) (*UnsubscribePacket, error) {
	p := &UnsubscribePacket{}
	id, off, err := readUint16(body, 0)
	if err != nil {
		return nil, err
	}
	p.PacketID = id

	props, off, err := decodeProperties(body, off)
	if err != nil {
		return nil, err
	}
	p.Properties = props

	for off < remaining {
		filter, o, err := readString(body, off)
		if err != nil {
			return nil, err
		}
		off = o
		p.TopicFilters = append(p.TopicFilters, filter)
	}
	if len(p.TopicFilters) == 0 {
		return nil, newProtocolError("unsubscribe with no filters")
	}
	return p, nil
}

func (p *UnsubscribePacket) Encode() ([]byte, error) {
	if len(p.TopicFilters) == 0 {
		return nil, newProtocolError("unsubscribe with no filters")
	}
	var body []byte
	body = writeUint16(body, p.PacketID)
	var err error
	body, err = p.Properties.encode(body)
	if err != nil {
		return nil, err
	}
	for _, f := range p.TopicFilters {
		body = writeString(body, f)
	}
	return finishPacket(UNSUBSCRIBE, 0x02, body)
}

// UnsubackPacket is the MQTT v5 UNSUBACK control packet.
type UnsubackPacket struct {
	PacketID    uint16
	Properties  Properties
	ReasonCodes []ReasonCode
}

func (u *UnsubackPacket) Type() PacketType { return UNSUBACK }

func DecodeUnsuback(remaining int, body []byte) (*UnsubackPacket, error) {
	p := &UnsubackPacket{}
	id, off, err := readUint16(body, 0)
	if err != nil {
		return nil, err
	}
	p.PacketID = id

	props, off, err := decodeProperties(body, off)
	if err != nil {
		return nil, err
	}
	p.Properties = props

	for off < remaining {
		rc, o, err := readByte(body, off)
		if err != nil {
			return nil, err
		}
		off = o
		p.ReasonCodes = append(p.ReasonCodes, ReasonCode(rc))
	}
	return p, nil
}

func (p *UnsubackPacket) Encode() ([]byte, error) {
	var body []byte
	body = writeUint16(body, p.PacketID)
	var err error
	body, err = p.Properties.encode(body)
	if err != nil {
		return nil, err
	}
	for _, rc := range p.ReasonCodes {
		body = append(body, byte(rc))
	}
	return finishPacket(UNSUBACK, 0, body)
}
