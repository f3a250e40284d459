package mqttv5

// PubAckFamily covers PUBACK, PUBREC, PUBREL and PUBCOMP: identical wire
// layout, differing only in which reason codes are legal.
type PubAckFamily struct {
	PacketType PacketType
	PacketID   uint16
	ReasonCode ReasonCode
	Properties Properties
}

func (p *PubAckFamily) Type() PacketType { return p.PacketType }

// DecodePubAckFamily decodes any of PUBACK/PUBREC/PUBREL/PUBCOMP. remaining
// is the fixed header's remaining length, which governs whether the reason
// code and properties are present at all.
func DecodePubAckFamily(pt PacketType, remaining int, body []byte) (*PubAckFamily, error) {
	p := &PubAckFamily{PacketType: pt, ReasonCode: ReasonSuccess}

	id, off, err := readUint16(body, 0)
	if err != nil {
		return nil, err
	}
	p.PacketID = id

	if remaining == 2 {
		return p, nil
	}

	rc, off2, err := readByte(body, off)
	if err != nil {
		return nil, err
	}
	off = off2
	p.ReasonCode = ReasonCode(rc)
	if err := validatePubAckReason(pt, p.ReasonCode); err != nil {
		return nil, err
	}

	if remaining < 4 {
		return p, nil
	}

	props, _, err := decodeProperties(body, off)
	if err != nil {
		return nil, err
	}
	p.Properties = props
	return p, nil
}

// validatePubAckReason enforces the family-specific legality rule:
// PubRel/PubComp may only be Success or PacketIdNotFound;
// PubAck/PubRec must not claim PacketIdNotFound (the id was, after all,
// just echoed back from a packet the peer sent).
func validatePubAckReason(pt PacketType, rc ReasonCode) error {
	switch pt {
	case PUBACK, PUBREC:
		if rc == ReasonPacketIdNotFound {
			return newProtocolError("%s must not report PacketIdNotFound", pt)
		}
	case PUBREL, PUBCOMP:
		if rc != ReasonSuccess && rc != ReasonPacketIdNotFound {
			return newProtocolError("%s reason code must be Success or PacketIdNotFound", pt)
		}
	}
	return nil
}

func (p *PubAckFamily) Encode() ([]byte, error) {
	if err := validatePubAckReason(p.PacketType, p.ReasonCode); err != nil {
		return nil, err
	}

	var flags byte
	if p.PacketType == PUBREL {
		flags = 0x02
	}

	var body []byte
	body = writeUint16(body, p.PacketID)

	hasProps := !isEmptyProperties(p.Properties)
	if p.ReasonCode == ReasonSuccess && !hasProps {
		return finishPacket(p.PacketType, flags, body)
	}

	body = append(body, byte(p.ReasonCode))
	if !hasProps {
		return finishPacket(p.PacketType, flags, body)
	}

	var err error
	body, err = p.Properties.encode(body)
	if err != nil {
		return nil, err
	}
	return finishPacket(p.PacketType, flags, body)
}

func isEmptyProperties(p Properties) bool {
	return p.ReasonString == nil && len(p.UserProperties) == 0
}
