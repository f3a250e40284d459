package mqttv5

import "unicode/utf8"

// Connect flag bits, CONNECT variable header byte 8.
const (
	connectFlagReserved    = 0x01
	connectFlagCleanStart  = 0x02
	connectFlagWillFlag    = 0x04
	connectFlagWillQoSMask = 0x18
	connectFlagWillRetain  = 0x20
	connectFlagPassword    = 0x40
	connectFlagUsername    = 0x80
)

// ConnectPacket is the MQTT v5 CONNECT control packet.
type ConnectPacket struct {
	ProtocolName    string
	ProtocolVersion byte
	CleanStart      bool
	WillFlag        bool
	WillQoS         QoS
	WillRetain      bool
	KeepAlive       uint16
	Properties      Properties

	ClientID       string
	WillProperties Properties
	WillTopic      string
	WillPayload    []byte
	Username       string
	HasUsername    bool
	Password       []byte
	HasPassword    bool
}

func (c *ConnectPacket) Type() PacketType { return CONNECT }

// DecodeConnect decodes a CONNECT packet body (everything after the fixed
// header). fh.RemainingLen bounds body.
func DecodeConnect(body []byte) (*ConnectPacket, error) {
	p := &ConnectPacket{}
	off := 0

	name, off, err := readString(body, off)
	if err != nil {
		return nil, err
	}
	p.ProtocolName = name
	if name != "MQTT" {
		return nil, newProtocolError("bad protocol name %q", name)
	}

	version, off, err := readByte(body, off)
	if err != nil {
		return nil, err
	}
	p.ProtocolVersion = version
	if version != 5 {
		return nil, &CodecError{Kind: ProtocolError, Reason: ReasonUnsupportedProtocolVersion, Msg: "unsupported protocol version"}
	}

	flags, off, err := readByte(body, off)
	if err != nil {
		return nil, err
	}
	if flags&connectFlagReserved != 0 {
		return nil, newMalformed("connect flags reserved bit set")
	}
	p.CleanStart = flags&connectFlagCleanStart != 0
	p.WillFlag = flags&connectFlagWillFlag != 0
	p.WillQoS = QoS((flags & connectFlagWillQoSMask) >> 3)
	if p.WillQoS > QoS2 {
		return nil, newMalformed("will qos out of range")
	}
	p.WillRetain = flags&connectFlagWillRetain != 0
	p.HasPassword = flags&connectFlagPassword != 0
	p.HasUsername = flags&connectFlagUsername != 0
	if !p.WillFlag && (p.WillQoS != QoS0 || p.WillRetain) {
		return nil, newProtocolError("will flags set without will-flag")
	}

	keepAlive, off, err := readUint16(body, off)
	if err != nil {
		return nil, err
	}
	p.KeepAlive = keepAlive

	props, off, err := decodeProperties(body, off)
	if err != nil {
		return nil, err
	}
	p.Properties = props
	if props.ReceiveMaximum != nil && *props.ReceiveMaximum == 0 {
		return nil, newProtocolError("receive maximum must not be 0")
	}

	clientID, off, err := readString(body, off)
	if err != nil {
		return nil, err
	}
	p.ClientID = clientID

	if p.WillFlag {
		willProps, o, err := decodeProperties(body, off)
		if err != nil {
			return nil, err
		}
		off = o
		p.WillProperties = willProps

		willTopic, o, err := readString(body, off)
		if err != nil {
			return nil, err
		}
		off = o
		p.WillTopic = willTopic

		willPayload, o, err := readBinary(body, off)
		if err != nil {
			return nil, err
		}
		off = o
		if willProps.PayloadFormatIndicator != nil && *willProps.PayloadFormatIndicator == 1 {
			if !utf8.Valid(willPayload) {
				return nil, newMalformed("will payload declared UTF-8 but is not")
			}
		}
		p.WillPayload = willPayload
	}

	if p.HasUsername {
		username, o, err := readString(body, off)
		if err != nil {
			return nil, err
		}
		off = o
		p.Username = username
	}
	if p.HasPassword {
		password, o, err := readBinary(body, off)
		if err != nil {
			return nil, err
		}
		off = o
		p.Password = password
	}

	return p, nil
}

func (p *ConnectPacket) Encode() ([]byte, error) {
	var body []byte
	body = writeString(body, "MQTT")
	body = append(body, 5)

	var flags byte
	if p.CleanStart {
		flags |= connectFlagCleanStart
	}
	if p.WillFlag {
		flags |= connectFlagWillFlag
		flags |= byte(p.WillQoS) << 3
		if p.WillRetain {
			flags |= connectFlagWillRetain
		}
	}
	if p.HasUsername {
		flags |= connectFlagUsername
	}
	if p.HasPassword {
		flags |= connectFlagPassword
	}
	body = append(body, flags)
	body = writeUint16(body, p.KeepAlive)

	var err error
	body, err = p.Properties.encode(body)
	if err != nil {
		return nil, err
	}

	body = writeString(body, p.ClientID)

	if p.WillFlag {
		body, err = p.WillProperties.encode(body)
		if err != nil {
			return nil, err
		}
		body = writeString(body, p.WillTopic)
		body = writeBinary(body, p.WillPayload)
	}
	if p.HasUsername {
		body = writeString(body, p.Username)
	}
	if p.HasPassword {
		body = writeBinary(body, p.Password)
	}

	return finishPacket(CONNECT, 0, body)
}

// ConnackPacket is the MQTT v5 CONNACK control packet.
type ConnackPacket struct {
	SessionPresent bool
	ReasonCode     ReasonCode
	Properties     Properties
}

func (c *ConnackPacket) Type() PacketType { return CONNACK }

func DecodeConnack(body []byte) (*ConnackPacket, error) {
	p := &ConnackPacket{}
	flags, off, err := readByte(body, 0)
	if err != nil {
		return nil, err
	}
	if flags&0xfe != 0 {
		return nil, newMalformed("connack flags reserved bits set")
	}
	p.SessionPresent = flags&0x01 != 0

	rc, off, err := readByte(body, off)
	if err != nil {
		return nil, err
	}
	p.ReasonCode = ReasonCode(rc)

	props, off, err := decodeProperties(body, off)
	if err != nil {
		return nil, err
	}
	_ = off
	p.Properties = props
	return p, nil
}

func (p *ConnackPacket) Encode() ([]byte, error) {
	var body []byte
	var flags byte
	if p.SessionPresent {
		flags = 0x01
	}
	body = append(body, flags, byte(p.ReasonCode))
	var err error
	body, err = p.Properties.encode(body)
	if err != nil {
		return nil, err
	}
	return finishPacket(CONNACK, 0, body)
}
