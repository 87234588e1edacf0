package fleetprov

import (
	"errors"
	"fmt"
)

var (
	// ErrBadParameter is returned when a caller violates an API precondition.
	ErrBadParameter = errors.New("fleetprov: bad parameter")

	// ErrBufferTooSmall is returned when the destination buffer cannot hold the topic.
	ErrBufferTooSmall = errors.New("fleetprov: buffer too small")

	// ErrNoMatch is returned when a topic is not one of the provisioning topics.
	ErrNoMatch = errors.New("fleetprov: topic does not match")
)

// Format is the payload encoding of a provisioning API.
type Format int

const (
	FormatJSON Format = iota + 1
	FormatCBOR
)

// IsValid reports whether f is a known format.
func (f Format) IsValid() bool {
	return f == FormatJSON || f == FormatCBOR
}

// Fragment returns the topic level naming the format.
func (f Format) Fragment() string {
	switch f {
	case FormatJSON:
		return FormatJSONFragment
	case FormatCBOR:
		return FormatCBORFragment
	default:
		return ""
	}
}

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "JSON"
	case FormatCBOR:
		return "CBOR"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat converts "json" or "cbor" to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case FormatJSONFragment:
		return FormatJSON, nil
	case FormatCBORFragment:
		return FormatCBOR, nil
	default:
		return 0, fmt.Errorf("%w: unknown format %q", ErrBadParameter, s)
	}
}

// APITopic selects the request topic or one of its response topics.
type APITopic int

const (
	APIPublish APITopic = iota + 1
	APIAccepted
	APIRejected
)

// IsValid reports whether a is a known API topic.
func (a APITopic) IsValid() bool {
	return a >= APIPublish && a <= APIRejected
}

// Suffix returns the literal appended after the format fragment.
func (a APITopic) Suffix() string {
	switch a {
	case APIAccepted:
		return AcceptedSuffix
	case APIRejected:
		return RejectedSuffix
	default:
		return ""
	}
}

func (a APITopic) String() string {
	switch a {
	case APIPublish:
		return "Publish"
	case APIAccepted:
		return "Accepted"
	case APIRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("APITopic(%d)", int(a))
	}
}

// Operation is one of the fleet provisioning MQTT APIs.
type Operation int

const (
	OperationCreateCertificateFromCsr Operation = iota + 1
	OperationCreateKeysAndCertificate
	OperationRegisterThing
)

// IsValid reports whether op is a known operation.
func (op Operation) IsValid() bool {
	return op >= OperationCreateCertificateFromCsr && op <= OperationRegisterThing
}

func (op Operation) String() string {
	switch op {
	case OperationCreateCertificateFromCsr:
		return "CreateCertificateFromCsr"
	case OperationCreateKeysAndCertificate:
		return "CreateKeysAndCertificate"
	case OperationRegisterThing:
		return "RegisterThing"
	default:
		return fmt.Sprintf("Operation(%d)", int(op))
	}
}

// Topic classifies a provisioning topic.
// The zero value is InvalidTopic.
type Topic int

const (
	InvalidTopic Topic = iota

	JSONCreateCertificateFromCsrPublish
	JSONCreateCertificateFromCsrAccepted
	JSONCreateCertificateFromCsrRejected
	CBORCreateCertificateFromCsrPublish
	CBORCreateCertificateFromCsrAccepted
	CBORCreateCertificateFromCsrRejected

	JSONCreateKeysAndCertificatePublish
	JSONCreateKeysAndCertificateAccepted
	JSONCreateKeysAndCertificateRejected
	CBORCreateKeysAndCertificatePublish
	CBORCreateKeysAndCertificateAccepted
	CBORCreateKeysAndCertificateRejected

	JSONRegisterThingPublish
	JSONRegisterThingAccepted
	JSONRegisterThingRejected
	CBORRegisterThingPublish
	CBORRegisterThingAccepted
	CBORRegisterThingRejected
)

// AllTopics lists every valid Topic in declaration order.
var AllTopics = []Topic{
	JSONCreateCertificateFromCsrPublish,
	JSONCreateCertificateFromCsrAccepted,
	JSONCreateCertificateFromCsrRejected,
	CBORCreateCertificateFromCsrPublish,
	CBORCreateCertificateFromCsrAccepted,
	CBORCreateCertificateFromCsrRejected,
	JSONCreateKeysAndCertificatePublish,
	JSONCreateKeysAndCertificateAccepted,
	JSONCreateKeysAndCertificateRejected,
	CBORCreateKeysAndCertificatePublish,
	CBORCreateKeysAndCertificateAccepted,
	CBORCreateKeysAndCertificateRejected,
	JSONRegisterThingPublish,
	JSONRegisterThingAccepted,
	JSONRegisterThingRejected,
	CBORRegisterThingPublish,
	CBORRegisterThingAccepted,
	CBORRegisterThingRejected,
}

// TopicFor returns the Topic for an operation, format and API topic, or
// InvalidTopic if any of them is out of range.
func TopicFor(op Operation, format Format, api APITopic) Topic {
	switch op {
	case OperationCreateCertificateFromCsr:
		switch format {
		case FormatJSON:
			return pick(api, JSONCreateCertificateFromCsrPublish, JSONCreateCertificateFromCsrAccepted, JSONCreateCertificateFromCsrRejected)
		case FormatCBOR:
			return pick(api, CBORCreateCertificateFromCsrPublish, CBORCreateCertificateFromCsrAccepted, CBORCreateCertificateFromCsrRejected)
		}
	case OperationCreateKeysAndCertificate:
		switch format {
		case FormatJSON:
			return pick(api, JSONCreateKeysAndCertificatePublish, JSONCreateKeysAndCertificateAccepted, JSONCreateKeysAndCertificateRejected)
		case FormatCBOR:
			return pick(api, CBORCreateKeysAndCertificatePublish, CBORCreateKeysAndCertificateAccepted, CBORCreateKeysAndCertificateRejected)
		}
	case OperationRegisterThing:
		switch format {
		case FormatJSON:
			return pick(api, JSONRegisterThingPublish, JSONRegisterThingAccepted, JSONRegisterThingRejected)
		case FormatCBOR:
			return pick(api, CBORRegisterThingPublish, CBORRegisterThingAccepted, CBORRegisterThingRejected)
		}
	}
	return InvalidTopic
}

func pick(api APITopic, publish, accepted, rejected Topic) Topic {
	switch api {
	case APIPublish:
		return publish
	case APIAccepted:
		return accepted
	case APIRejected:
		return rejected
	default:
		return InvalidTopic
	}
}

// IsValid reports whether t is one of the classified provisioning topics.
func (t Topic) IsValid() bool {
	return t.Operation().IsValid()
}

// Operation returns the provisioning API the topic belongs to.
func (t Topic) Operation() Operation {
	switch t {
	case JSONCreateCertificateFromCsrPublish, JSONCreateCertificateFromCsrAccepted, JSONCreateCertificateFromCsrRejected,
		CBORCreateCertificateFromCsrPublish, CBORCreateCertificateFromCsrAccepted, CBORCreateCertificateFromCsrRejected:
		return OperationCreateCertificateFromCsr
	case JSONCreateKeysAndCertificatePublish, JSONCreateKeysAndCertificateAccepted, JSONCreateKeysAndCertificateRejected,
		CBORCreateKeysAndCertificatePublish, CBORCreateKeysAndCertificateAccepted, CBORCreateKeysAndCertificateRejected:
		return OperationCreateKeysAndCertificate
	case JSONRegisterThingPublish, JSONRegisterThingAccepted, JSONRegisterThingRejected,
		CBORRegisterThingPublish, CBORRegisterThingAccepted, CBORRegisterThingRejected:
		return OperationRegisterThing
	default:
		return 0
	}
}

// Format returns the payload format of the topic.
func (t Topic) Format() Format {
	switch t {
	case JSONCreateCertificateFromCsrPublish, JSONCreateCertificateFromCsrAccepted, JSONCreateCertificateFromCsrRejected,
		JSONCreateKeysAndCertificatePublish, JSONCreateKeysAndCertificateAccepted, JSONCreateKeysAndCertificateRejected,
		JSONRegisterThingPublish, JSONRegisterThingAccepted, JSONRegisterThingRejected:
		return FormatJSON
	case CBORCreateCertificateFromCsrPublish, CBORCreateCertificateFromCsrAccepted, CBORCreateCertificateFromCsrRejected,
		CBORCreateKeysAndCertificatePublish, CBORCreateKeysAndCertificateAccepted, CBORCreateKeysAndCertificateRejected,
		CBORRegisterThingPublish, CBORRegisterThingAccepted, CBORRegisterThingRejected:
		return FormatCBOR
	default:
		return 0
	}
}

// API returns whether the topic is a request, accepted or rejected topic.
func (t Topic) API() APITopic {
	switch t {
	case JSONCreateCertificateFromCsrPublish, CBORCreateCertificateFromCsrPublish,
		JSONCreateKeysAndCertificatePublish, CBORCreateKeysAndCertificatePublish,
		JSONRegisterThingPublish, CBORRegisterThingPublish:
		return APIPublish
	case JSONCreateCertificateFromCsrAccepted, CBORCreateCertificateFromCsrAccepted,
		JSONCreateKeysAndCertificateAccepted, CBORCreateKeysAndCertificateAccepted,
		JSONRegisterThingAccepted, CBORRegisterThingAccepted:
		return APIAccepted
	case JSONCreateCertificateFromCsrRejected, CBORCreateCertificateFromCsrRejected,
		JSONCreateKeysAndCertificateRejected, CBORCreateKeysAndCertificateRejected,
		JSONRegisterThingRejected, CBORRegisterThingRejected:
		return APIRejected
	default:
		return 0
	}
}

func (t Topic) String() string {
	if !t.IsValid() {
		return "InvalidTopic"
	}
	return t.Format().String() + t.Operation().String() + t.API().String()
}
