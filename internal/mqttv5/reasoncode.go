package mqttv5

// ReasonCode is the single-byte MQTT v5 reason code shared by CONNACK,
// PUBACK-family, SUBACK, UNSUBACK and DISCONNECT packets.
type ReasonCode byte

// Reason code subset named in, plus the handful every packet
// family in this codec needs to round-trip.
const (
	ReasonSuccess                          ReasonCode = 0x00
	ReasonNormalDisconnection              ReasonCode = 0x00
	ReasonGrantedQoS0                      ReasonCode = 0x00
	ReasonGrantedQoS1                      ReasonCode = 0x01
	ReasonGrantedQoS2                      ReasonCode = 0x02
	ReasonDisconnectWithWillMessage        ReasonCode = 0x04
	ReasonNoMatchingSubscribers            ReasonCode = 0x10
	ReasonNoSubscriptionExisted            ReasonCode = 0x11
	ReasonContinueAuthentication           ReasonCode = 0x18
	ReasonReAuthenticate                   ReasonCode = 0x19
	ReasonUnspecifiedError                 ReasonCode = 0x80
	ReasonMalformedPacket                  ReasonCode = 0x81
	ReasonProtocolError                    ReasonCode = 0x82
	ReasonImplementationSpecificError      ReasonCode = 0x83
	ReasonUnsupportedProtocolVersion       ReasonCode = 0x84
	ReasonClientIdentifierNotValid         ReasonCode = 0x85
	ReasonBadUsernameOrPassword            ReasonCode = 0x86
	ReasonNotAuthorized                    ReasonCode = 0x87
	ReasonServerUnavailable                ReasonCode = 0x88
	ReasonServerBusy                       ReasonCode = 0x89
	ReasonBanned                           ReasonCode = 0x8A
	ReasonServerShuttingDown               ReasonCode = 0x8B
	ReasonBadAuthenticationMethod          ReasonCode = 0x8C
	ReasonKeepAliveTimeout                 ReasonCode = 0x8D
	ReasonSessionTakenOver                 ReasonCode = 0x8E
	ReasonTopicFilterInvalid               ReasonCode = 0x8F
	ReasonTopicNameInvalid                 ReasonCode = 0x90
	ReasonPacketIdentifierInUse            ReasonCode = 0x91
	ReasonPacketIdNotFound                 ReasonCode = 0x92
	ReasonReceiveMaximumExceeded           ReasonCode = 0x93
	ReasonTopicAliasInvalid                ReasonCode = 0x94
	ReasonPacketTooLarge                   ReasonCode = 0x95
	ReasonMessageRateTooHigh               ReasonCode = 0x96
	ReasonQuotaExceeded                    ReasonCode = 0x97
	ReasonAdministrativeAction             ReasonCode = 0x98
	ReasonPayloadFormatInvalid             ReasonCode = 0x99
	ReasonRetainNotSupported               ReasonCode = 0x9A
	ReasonQoSNotSupported                  ReasonCode = 0x9B
	ReasonUseAnotherServer                 ReasonCode = 0x9C
	ReasonServerMoved                      ReasonCode = 0x9D
	ReasonSharedSubscriptionsNotSupported  ReasonCode = 0x9E
	ReasonConnectionRateExceeded           ReasonCode = 0x9F
	ReasonMaximumConnectTime               ReasonCode = 0xA0
	ReasonSubscriptionIdsNotSupported      ReasonCode = 0xA1
	ReasonWildcardSubscriptionsNotSupported ReasonCode = 0xA2
)

var reasonNames = map[ReasonCode]string{
	ReasonSuccess:                            "Success",
	ReasonGrantedQoS1:                        "GrantedQoS1",
	ReasonGrantedQoS2:                        "GrantedQoS2",
	ReasonDisconnectWithWillMessage:          "DisconnectWithWillMessage",
	ReasonNoMatchingSubscribers:              "NoMatchingSubscribers",
	ReasonNoSubscriptionExisted:              "NoSubscriptionExisted",
	ReasonContinueAuthentication:             "ContinueAuthentication",
	ReasonReAuthenticate:                     "ReAuthenticate",
	ReasonUnspecifiedError:                   "UnspecifiedError",
	ReasonMalformedPacket:                    "MalformedPacket",
	ReasonProtocolError:                      "ProtocolError",
	ReasonImplementationSpecificError:        "ImplementationSpecificError",
	ReasonUnsupportedProtocolVersion:         "UnsupportedProtocolVersion",
	ReasonClientIdentifierNotValid:           "ClientIdentifierNotValid",
	ReasonBadUsernameOrPassword:              "BadUsernameOrPassword",
	ReasonNotAuthorized:                      "NotAuthorized",
	ReasonServerUnavailable:                  "ServerUnavailable",
	ReasonServerBusy:                         "ServerBusy",
	ReasonBanned:                             "Banned",
	ReasonServerShuttingDown:                 "ServerShuttingDown",
	ReasonBadAuthenticationMethod:            "BadAuthenticationMethod",
	ReasonKeepAliveTimeout:                   "KeepAliveTimeout",
	ReasonSessionTakenOver:                   "SessionTakenOver",
	ReasonTopicFilterInvalid:                 "TopicFilterInvalid",
	ReasonTopicNameInvalid:                   "TopicNameInvalid",
	ReasonPacketIdentifierInUse:              "PacketIdentifierInUse",
	ReasonPacketIdNotFound:                   "PacketIdNotFound",
	ReasonReceiveMaximumExceeded:             "ReceiveMaximumExceeded",
	ReasonTopicAliasInvalid:                  "TopicAliasInvalid",
	ReasonPacketTooLarge:                     "PacketTooLarge",
	ReasonMessageRateTooHigh:                 "MessageRateTooHigh",
	ReasonQuotaExceeded:                      "QuotaExceeded",
	ReasonAdministrativeAction:               "AdministrativeAction",
	ReasonPayloadFormatInvalid:               "PayloadFormatInvalid",
	ReasonRetainNotSupported:                 "RetainNotSupported",
	ReasonQoSNotSupported:                    "QoSNotSupported",
	ReasonUseAnotherServer:                   "UseAnotherServer",
	ReasonServerMoved:                        "ServerMoved",
	ReasonSharedSubscriptionsNotSupported:    "SharedSubscriptionsNotSupported",
	ReasonConnectionRateExceeded:             "ConnectionRateExceeded",
	ReasonMaximumConnectTime:                 "MaximumConnectTime",
	ReasonSubscriptionIdsNotSupported:        "SubscriptionIdentifiersNotSupported",
	ReasonWildcardSubscriptionsNotSupported:  "WildcardSubscriptionsNotSupported",
}

func (rc ReasonCode) String() string {
	if name, ok := reasonNames[rc]; ok {
		return name
	}
	return "Unknown"
}
