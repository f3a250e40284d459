package mqttv5

// PropertyID is the Variable Byte Integer property identifier that prefixes
// every entry in an MQTT v5 properties section.
type PropertyID byte

const (
	PropPayloadFormatIndicator          PropertyID = 0x01
	PropMessageExpiryInterval           PropertyID = 0x02
	PropContentType                     PropertyID = 0x03
	PropResponseTopic                   PropertyID = 0x08
	PropCorrelationData                 PropertyID = 0x09
	PropSubscriptionIdentifier          PropertyID = 0x0B
	PropSessionExpiryInterval           PropertyID = 0x11
	PropAssignedClientIdentifier        PropertyID = 0x12
	PropServerKeepAlive                 PropertyID = 0x13
	PropAuthenticationMethod            PropertyID = 0x15
	PropAuthenticationData              PropertyID = 0x16
	PropRequestProblemInformation       PropertyID = 0x17
	PropWillDelayInterval               PropertyID = 0x18
	PropRequestResponseInformation      PropertyID = 0x19
	PropResponseInformation             PropertyID = 0x1A
	PropServerReference                 PropertyID = 0x1C
	PropReasonString                    PropertyID = 0x1F
	PropReceiveMaximum                  PropertyID = 0x21
	PropTopicAliasMaximum               PropertyID = 0x22
	PropTopicAlias                      PropertyID = 0x23
	PropMaximumQoS                      PropertyID = 0x24
	PropRetainAvailable                 PropertyID = 0x25
	PropUserProperty                    PropertyID = 0x26
	PropMaximumPacketSize                PropertyID = 0x27
	PropWildcardSubscriptionAvailable   PropertyID = 0x28
	PropSubscriptionIdentifierAvailable PropertyID = 0x29
	PropSharedSubscriptionAvailable     PropertyID = 0x2A
)

// UserProperty is a single application-defined key/value pair. It is the
// only property id the wire format allows to repeat, so it alone is stored
// as an ordered slice rather than a single field.
type UserProperty struct {
	Key   string
	Value string
}

// Properties is the union of every property that can appear in any MQTT v5
// packet's properties section. Decoding accepts any known property id in any
// packet type: neither this code nor the per-packet decoders reject a
// property the protocol does not allow for that packet type.
type Properties struct {
	PayloadFormatIndicator          *byte
	MessageExpiryInterval           *uint32
	ContentType                     *string
	ResponseTopic                   *string
	CorrelationData                 []byte
	SubscriptionIdentifier          *VarU32
	SessionExpiryInterval           *uint32
	AssignedClientIdentifier        *string
	ServerKeepAlive                 *uint16
	AuthenticationMethod            *string
	AuthenticationData              []byte
	RequestProblemInformation       *byte
	WillDelayInterval                *uint32
	RequestResponseInformation      *byte
	ResponseInformation             *string
	ServerReference                 *string
	ReasonString                    *string
	ReceiveMaximum                  *uint16
	TopicAliasMaximum               *uint16
	TopicAlias                      *uint16
	MaximumQoS                      *byte
	RetainAvailable                 *byte
	MaximumPacketSize                *uint32
	WildcardSubscriptionAvailable   *byte
	SubscriptionIdentifierAvailable *byte
	SharedSubscriptionAvailable     *byte
	UserProperties                  []UserProperty
}

// decodeProperties parses the length-prefixed properties section at off,
// returning the parsed Properties and the offset just past it. Every
// property id other than UserProperty that appears twice is a
// MalformedPacket; an unrecognized id is also MalformedPacket.
func decodeProperties(src []byte, off int) (Properties, int, error) {
	var props Properties

	length, n, err := DecodeVarU32(src[off:])
	if err != nil {
		return props, off, err
	}
	off += n
	limit := off + int(length)
	if limit > len(src) {
		return props, off, newMalformed("properties length exceeds packet")
	}

	seen := map[PropertyID]bool{}
	dup := func(id PropertyID) error {
		if seen[id] {
			return newMalformed("duplicate property 0x%02x", byte(id))
		}
		seen[id] = true
		return nil
	}

	for off < limit {
		idVal, n, err := DecodeVarU32(src[off:])
		if err != nil {
			return props, off, err
		}
		off += n
		id := PropertyID(idVal)

		switch id {
		case PropPayloadFormatIndicator, PropRequestProblemInformation,
			PropRequestResponseInformation, PropMaximumQoS, PropRetainAvailable,
			PropWildcardSubscriptionAvailable, PropSubscriptionIdentifierAvailable,
			PropSharedSubscriptionAvailable:
			if err := dup(id); err != nil {
				return props, off, err
			}
			var b byte
			b, off, err = readByte(src, off)
			if err != nil {
				return props, off, err
			}
			assignByteProp(&props, id, b)

		case PropMessageExpiryInterval, PropSessionExpiryInterval,
			PropWillDelayInterval, PropMaximumPacketSize:
			if err := dup(id); err != nil {
				return props, off, err
			}
			var v uint32
			v, off, err = readUint32(src, off)
			if err != nil {
				return props, off, err
			}
			assignU32Prop(&props, id, v)

		case PropServerKeepAlive, PropReceiveMaximum, PropTopicAliasMaximum, PropTopicAlias:
			if err := dup(id); err != nil {
				return props, off, err
			}
			var v uint16
			v, off, err = readUint16(src, off)
			if err != nil {
				return props, off, err
			}
			assignU16Prop(&props, id, v)

		case PropContentType, PropResponseTopic, PropAssignedClientIdentifier,
			PropAuthenticationMethod, PropResponseInformation, PropServerReference,
			PropReasonString:
			if err := dup(id); err != nil {
				return props, off, err
			}
			var s string
			s, off, err = readString(src, off)
			if err != nil {
				return props, off, err
			}
			assignStringProp(&props, id, s)

		case PropCorrelationData, PropAuthenticationData:
			if err := dup(id); err != nil {
				return props, off, err
			}
			var b []byte
			b, off, err = readBinary(src, off)
			if err != nil {
				return props, off, err
			}
			if id == PropCorrelationData {
				props.CorrelationData = b
			} else {
				props.AuthenticationData = b
			}

		case PropSubscriptionIdentifier:
			if err := dup(id); err != nil {
				return props, off, err
			}
			v, n, err := DecodeVarU32(src[off:])
			if err != nil {
				return props, off, err
			}
			off += n
			if v == 0 {
				return props, off, newProtocolError("subscription identifier must not be 0")
			}
			props.SubscriptionIdentifier = &v

		case PropUserProperty:
			key, o2, err := readString(src, off)
			if err != nil {
				return props, off, err
			}
			val, o3, err := readString(src, o2)
			if err != nil {
				return props, off, err
			}
			off = o3
			props.UserProperties = append(props.UserProperties, UserProperty{Key: key, Value: val})

		default:
			return props, off, newMalformed("unknown property id 0x%02x", byte(id))
		}
	}

	return props, off, nil
}

func assignByteProp(p *Properties, id PropertyID, v byte) {
	switch id {
	case PropPayloadFormatIndicator:
		p.PayloadFormatIndicator = &v
	case PropRequestProblemInformation:
		p.RequestProblemInformation = &v
	case PropRequestResponseInformation:
		p.RequestResponseInformation = &v
	case PropMaximumQoS:
		p.MaximumQoS = &v
	case PropRetainAvailable:
		p.RetainAvailable = &v
	case PropWildcardSubscriptionAvailable:
		p.WildcardSubscriptionAvailable = &v
	case PropSubscriptionIdentifierAvailable:
		p.SubscriptionIdentifierAvailable = &v
	case PropSharedSubscriptionAvailable:
		p.SharedSubscriptionAvailable = &v
	}
}

func assignU32Prop(p *Properties, id PropertyID, v uint32) {
	switch id {
	case PropMessageExpiryInterval:
		p.MessageExpiryInterval = &v
	case PropSessionExpiryInterval:
		p.SessionExpiryInterval = &v
	case PropWillDelayInterval:
		p.WillDelayInterval = &v
	case PropMaximumPacketSize:
		p.MaximumPacketSize = &v
	}
}

func assignU16Prop(p *Properties, id PropertyID, v uint16) {
	switch id {
	case PropServerKeepAlive:
		p.ServerKeepAlive = &v
	case PropReceiveMaximum:
		p.ReceiveMaximum = &v
	case PropTopicAliasMaximum:
		p.TopicAliasMaximum = &v
	case PropTopicAlias:
		p.TopicAlias = &v
	}
}

func assignStringProp(p *Properties, id PropertyID, v string) {
	switch id {
	case PropContentType:
		p.ContentType = &v
	case PropResponseTopic:
		p.ResponseTopic = &v
	case PropAssignedClientIdentifier:
		p.AssignedClientIdentifier = &v
	case PropAuthenticationMethod:
		p.AuthenticationMethod = &v
	case PropResponseInformation:
		p.ResponseInformation = &v
	case PropServerReference:
		p.ServerReference = &v
	case PropReasonString:
		p.ReasonString = &v
	}
}

// encode appends the properties section (length prefix + entries) to dst,
// in declaration order, omitting every absent field.
func (p Properties) encode(dst []byte) ([]byte, error) {
	var body []byte

	if p.PayloadFormatIndicator != nil {
		body = appendPropID(body, PropPayloadFormatIndicator)
		body = append(body, *p.PayloadFormatIndicator)
	}
	if p.MessageExpiryInterval != nil {
		body = appendPropID(body, PropMessageExpiryInterval)
		body = writeUint32(body, *p.MessageExpiryInterval)
	}
	if p.ContentType != nil {
		body = appendPropID(body, PropContentType)
		body = writeString(body, *p.ContentType)
	}
	if p.ResponseTopic != nil {
		body = appendPropID(body, PropResponseTopic)
		body = writeString(body, *p.ResponseTopic)
	}
	if p.CorrelationData != nil {
		body = appendPropID(body, PropCorrelationData)
		body = writeBinary(body, p.CorrelationData)
	}
	if p.SubscriptionIdentifier != nil {
		body = appendPropID(body, PropSubscriptionIdentifier)
		var err error
		body, err = EncodeVarU32(body, *p.SubscriptionIdentifier)
		if err != nil {
			return nil, err
		}
	}
	if p.SessionExpiryInterval != nil {
		body = appendPropID(body, PropSessionExpiryInterval)
		body = writeUint32(body, *p.SessionExpiryInterval)
	}
	if p.AssignedClientIdentifier != nil {
		body = appendPropID(body, PropAssignedClientIdentifier)
		body = writeString(body, *p.AssignedClientIdentifier)
	}
	if p.ServerKeepAlive != nil {
		body = appendPropID(body, PropServerKeepAlive)
		body = writeUint16(body, *p.ServerKeepAlive)
	}
	if p.AuthenticationMethod != nil {
		body = appendPropID(body, PropAuthenticationMethod)
		body = writeString(body, *p.AuthenticationMethod)
	}
	if p.AuthenticationData != nil {
		body = appendPropID(body, PropAuthenticationData)
		body = writeBinary(body, p.AuthenticationData)
	}
	if p.RequestProblemInformation != nil {
		body = appendPropID(body, PropRequestProblemInformation)
		body = append(body, *p.RequestProblemInformation)
	}
	if p.WillDelayInterval != nil {
		body = appendPropID(body, PropWillDelayInterval)
		body = writeUint32(body, *p.WillDelayInterval)
	}
	if p.RequestResponseInformation != nil {
		body = appendPropID(body, PropRequestResponseInformation)
		body = append(body, *p.RequestResponseInformation)
	}
	if p.ResponseInformation != nil {
		body = appendPropID(body, PropResponseInformation)
		body = writeString(body, *p.ResponseInformation)
	}
	if p.ServerReference != nil {
		body = appendPropID(body, PropServerReference)
		body = writeString(body, *p.ServerReference)
	}
	if p.ReasonString != nil {
		body = appendPropID(body, PropReasonString)
		body = writeString(body, *p.ReasonString)
	}
	if p.ReceiveMaximum != nil {
		body = appendPropID(body, PropReceiveMaximum)
		body = writeUint16(body, *p.ReceiveMaximum)
	}
	if p.TopicAliasMaximum != nil {
		body = appendPropID(body, PropTopicAliasMaximum)
		body = writeUint16(body, *p.TopicAliasMaximum)
	}
	if p.TopicAlias != nil {
		body = appendPropID(body, PropTopicAlias)
		body = writeUint16(body, *p.TopicAlias)
	}
	if p.MaximumQoS != nil {
		body = appendPropID(body, PropMaximumQoS)
		body = append(body, *p.MaximumQoS)
	}
	if p.RetainAvailable != nil {
		body = appendPropID(body, PropRetainAvailable)
		body = append(body, *p.RetainAvailable)
	}
	if p.MaximumPacketSize != nil {
		body = appendPropID(body, PropMaximumPacketSize)
		body = writeUint32(body, *p.MaximumPacketSize)
	}
	if p.WildcardSubscriptionAvailable != nil {
		body = appendPropID(body, PropWildcardSubscriptionAvailable)
		body = append(body, *p.WildcardSubscriptionAvailable)
	}
	if p.SubscriptionIdentifierAvailable != nil {
		body = appendPropID(body, PropSubscriptionIdentifierAvailable)
		body = append(body, *p.SubscriptionIdentifierAvailable)
	}
	if p.SharedSubscriptionAvailable != nil {
		body = appendPropID(body, PropSharedSubscriptionAvailable)
		body = append(body, *p.SharedSubscriptionAvailable)
	}
	for _, up := range p.UserProperties {
		body = appendPropID(body, PropUserProperty)
		body = writeString(body, up.Key)
		body = writeString(body, up.Value)
	}

	dst, err := EncodeVarU32(dst, VarU32(len(body)))
	if err != nil {
		return nil, err
	}
	return append(dst, body...), nil
}

func appendPropID(dst []byte, id PropertyID) []byte {
	dst, _ = EncodeVarU32(dst, VarU32(id))
	return dst
}
