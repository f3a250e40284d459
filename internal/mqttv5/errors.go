package mqttv5

import "fmt"

// Kind distinguishes the two codec-level error families from
// Both surface to the session, which answers with a DISCONNECT carrying the
// matching ReasonCode and then closes the socket.
type Kind int

const (
	// MalformedPacket covers structural violations: reserved bits set, bad
	// UTF-8, impossible lengths, duplicate non-UserProperty properties,
	// out-of-range enum values.
	MalformedPacket Kind = iota
	// ProtocolError covers field values that are structurally fine but
	// violate an MQTT rule (ReceiveMaximum=0, unknown version, and so on).
	ProtocolError
)

func (k Kind) String() string {
	if k == ProtocolError {
		return "ProtocolError"
	}
	return "MalformedPacket"
}

// CodecError is returned by every decode/encode operation that fails
// validation. Reason carries the DISCONNECT reason code the broker must
// send for this failure.
type CodecError struct {
	Kind   Kind
	Reason ReasonCode
	Msg    string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("%s: %s (reason=0x%02x)", e.Kind, e.Msg, byte(e.Reason))
}

func newMalformed(format string, args ...any) error {
	return &CodecError{Kind: MalformedPacket, Reason: ReasonMalformedPacket, Msg: fmt.Sprintf(format, args...)}
}

func newProtocolError(format string, args ...any) error {
	return &CodecError{Kind: ProtocolError, Reason: ReasonProtocolError, Msg: fmt.Sprintf(format, args...)}
}

// AsCodecError extracts a *CodecError from err, if any.
func AsCodecError(err error) (*CodecError, bool) {
	ce, ok := err.(*CodecError)
	return ce, ok
}
