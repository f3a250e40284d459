package mqttv5

// PingreqPacket is the MQTT v5 PINGREQ control packet. It carries no payload.
type PingreqPacket struct{}

func (p *PingreqPacket) Type() PacketType { return PINGREQ }

func DecodePingreq(remaining int, body []byte) (*PingreqPacket, error) {
	if remaining != 0 {
		return nil, newMalformed("pingreq must have no payload")
	}
	return &PingreqPacket{}, nil
}

func (p *PingreqPacket) Encode() ([]byte, error) {
	return finishPacket(PINGREQ, 0, nil)
}

// PingrespPacket is the MQTT v5 PINGRESP control packet. It carries no payload.
type PingrespPacket struct{}

func (p *PingrespPacket) Type() PacketType { return PINGRESP }

func DecodePingresp(remaining int, body []byte) (*PingrespPacket, error) {
	if remaining != 0 {
		return nil, newMalformed("pingresp must have no payload")
	}
	return &PingrespPacket{}, nil
}

func (p *PingrespPacket) Encode() ([]byte, error) {
	return finishPacket(PINGRESP, 0, nil)
}

// DisconnectPacket is the MQTT v5 DISCONNECT control packet. An empty
// packet (remaining length 0) implies ReasonCode Success / NormalDisconnection
// with no properties.
type DisconnectPacket struct {
	ReasonCode ReasonCode
	Properties Properties
}

func (p *DisconnectPacket) Type() PacketType { return DISCONNECT }

func DecodeDisconnect(remaining int, body []byte) (*DisconnectPacket, error) {
	p := &DisconnectPacket{ReasonCode: ReasonNormalDisconnection}
	if remaining == 0 {
		return p, nil
	}

	rc, off, err := readByte(body, 0)
	if err != nil {
		return nil, err
	}
	p.ReasonCode = ReasonCode(rc)

	if remaining < 2 {
		return p, nil
	}

	props, _, err := decodeProperties(body, off)
	if err != nil {
		return nil, err
	}
	p.Properties = props
	return p, nil
}

func (p *DisconnectPacket) Encode() ([]byte, error) {
	hasProps := !isEmptyProperties(p.Properties) || p.Properties.SessionExpiryInterval != nil || p.Properties.ServerReference != nil
	if p.ReasonCode == ReasonNormalDisconnection && !hasProps {
		return finishPacket(DISCONNECT, 0, nil)
	}

	body := []byte{byte(p.ReasonCode)}
	if !hasProps {
		return finishPacket(DISCONNECT, 0, body)
	}

	var err error
	body, err = p.Properties.encode(body)
	if err != nil {
		return nil, err
	}
	return finishPacket(DISCONNECT, 0, body)
}

// AuthPacket is the MQTT v5 AUTH control packet, used for enhanced
// (challenge/response) authentication exchanges. An empty packet implies
// ReasonCode Success with no properties.
type AuthPacket struct {
	ReasonCode ReasonCode
	Properties Properties
}

func (p *AuthPacket) Type() PacketType { return AUTH }

func DecodeAuth(remaining int, body []byte) (*AuthPacket, error) {
	p := &AuthPacket{ReasonCode: ReasonSuccess}
	if remaining == 0 {
		return p, nil
	}

	rc, off, err := readByte(body, 0)
	if err != nil {
		return nil, err
	}
	p.ReasonCode = ReasonCode(rc)
	if p.ReasonCode != ReasonSuccess && p.ReasonCode != ReasonContinueAuthentication && p.ReasonCode != ReasonReAuthenticate {
		return nil, newMalformed("auth reason code out of range")
	}

	if remaining < 2 {
		return p, nil
	}

	props, _, err := decodeProperties(body, off)
	if err != nil {
		return nil, err
	}
	if props.AuthenticationMethod == nil {
		return nil, newProtocolError("auth packet missing authentication method")
	}
	p.Properties = props
	return p, nil
}

func (p *AuthPacket) Encode() ([]byte, error) {
	hasProps := !isEmptyProperties(p.Properties) || p.Properties.AuthenticationMethod != nil || p.Properties.AuthenticationData != nil
	if p.ReasonCode == ReasonSuccess && !hasProps {
		return finishPacket(AUTH, 0, nil)
	}

	body := []byte{byte(p.ReasonCode)}
	if !hasProps {
		return finishPacket(AUTH, 0, body)
	}

	var err error
	body, err = p.Properties.encode(body)
	if err != nil {
		return nil, err
	}
	return finishPacket(AUTH, 0, body)
}
