package cel

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownEventType is returned when an event carries a type tag that
	// has no registered name.
	ErrUnknownEventType = errors.New("cel: unknown event type")
)

// EventType identifies the kind of call lifecycle event.
type EventType int

const (
	ChannelStart EventType = iota + 1
	ChannelEnd
	Hangup
	Answer
	AppStart
	AppEnd
	BridgeEnter
	BridgeExit
	ParkStart
	ParkEnd
	BlindTransfer
	AttendedTransfer
	UserDefined
	LinkedIDEnd
	LocalOptimize
	Pickup
	Forward
)

var eventTypeNames = map[EventType]string{
	ChannelStart:     "CHAN_START",
	ChannelEnd:       "CHAN_END",
	Hangup:           "HANGUP",
	Answer:           "ANSWER",
	AppStart:         "APP_START",
	AppEnd:           "APP_END",
	BridgeEnter:      "BRIDGE_ENTER",
	BridgeExit:       "BRIDGE_EXIT",
	ParkStart:        "PARK_START",
	ParkEnd:          "PARK_END",
	BlindTransfer:    "BLINDTRANSFER",
	AttendedTransfer: "ATTENDEDTRANSFER",
	UserDefined:      "USER_DEFINED",
	LinkedIDEnd:      "LINKEDID_END",
	LocalOptimize:    "LOCAL_OPTIMIZE",
	Pickup:           "PICKUP",
	Forward:          "FORWARD",
}

var eventTypesByName = func() map[string]EventType {
	m := make(map[string]EventType, len(eventTypeNames))
	for t, name := range eventTypeNames {
		m[name] = t
	}
	return m
}()

// String returns the wire name of the event type, or an empty string if the
// type is not recognized.
func (t EventType) String() string {
	return eventTypeNames[t]
}

// ParseEventType resolves a wire name to its EventType.
func ParseEventType(name string) (EventType, error) {
	t, ok := eventTypesByName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEventType, name)
	}
	return t, nil
}

// MarshalJSON encodes the event type as its wire name.
func (t EventType) MarshalJSON() ([]byte, error) {
	name := t.String()
	if name == "" {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEventType, int(t))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes an event type from its wire name.
func (t *EventType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseEventType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AMAFlag is the automatic message accounting disposition of a call.
type AMAFlag int

const (
	AMAOmit AMAFlag = iota + 1
	AMABilling
	AMADocumentation
)

// String renders the AMA flag the way the billing layer spells it. Values
// outside the known set render as "Unknown" rather than failing the event.
func (f AMAFlag) String() string {
	switch f {
	case AMAOmit:
		return "OMIT"
	case AMABilling:
		return "BILLING"
	case AMADocumentation:
		return "DOCUMENTATION"
	default:
		return "Unknown"
	}
}

// Record is a single call event as delivered by the host platform. A Record
// is constructed per event and owns no state beyond that event.
type Record struct {
	EventType       EventType `json:"event_type"`
	UserDefinedName string    `json:"user_defined_name,omitempty"`
	UniqueID        string    `json:"unique_id"`
	LinkedID        string    `json:"linked_id"`

	CallerIDNum   string `json:"caller_id_num"`
	CallerIDName  string `json:"caller_id_name"`
	CallerIDANI   string `json:"caller_id_ani"`
	CallerIDRDNIS string `json:"caller_id_rdnis"`
	CallerIDDNID  string `json:"caller_id_dnid"`

	Extension       string `json:"extension"`
	Context         string `json:"context"`
	ChannelName     string `json:"channel_name"`
	ApplicationName string `json:"application_name"`
	ApplicationData string `json:"application_data"`

	AccountCode string  `json:"account_code"`
	AMAFlag     AMAFlag `json:"amaflag"`
	UserField   string  `json:"user_field"`
	Peer        string  `json:"peer"`
	PeerAccount string  `json:"peer_account"`

	EventTime time.Time `json:"event_time"`

	// Extra is a free-form payload. It may hold JSON text, an arbitrary
	// string, or nothing at all; the formatter decides how it serializes.
	Extra string `json:"extra,omitempty"`
}

// Name returns the event name for the record: the user-defined name for
// USER_DEFINED events, the event-type name otherwise.
func (r *Record) Name() string {
	if r.EventType == UserDefined {
		return r.UserDefinedName
	}
	return r.EventType.String()
}
