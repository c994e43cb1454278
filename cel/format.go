package cel

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// eventTimeLayout matches the ISO 8601 rendering used by the rest of the
// platform's logging backends, millisecond precision with a numeric zone.
const eventTimeLayout = "2006-01-02T15:04:05.000-0700"

// document is the canonical wire schema. Every key is always present;
// absent source values serialize as empty strings, except extra.
type document struct {
	EventName   string   `json:"event_name"`
	AccountCode string   `json:"account_code"`
	CallerID    callerID `json:"caller_id"`
	Extension   string   `json:"extension"`
	Context     string   `json:"context"`
	Channel     string   `json:"channel"`
	Application string   `json:"application"`
	AppData     string   `json:"app_data"`
	EventTime   string   `json:"event_time"`
	AMAFlags    string   `json:"amaflags"`
	UniqueID    string   `json:"unique_id"`
	LinkedID    string   `json:"linked_id"`
	UserField   string   `json:"user_field"`
	Peer        string   `json:"peer"`
	PeerAccount string   `json:"peer_account"`

	Extra json.RawMessage `json:"extra"`
}

type callerID struct {
	Num   string `json:"num"`
	Name  string `json:"name"`
	ANI   string `json:"ani"`
	RDNIS string `json:"rdnis"`
	DNID  string `json:"dnid"`
}

// Formatter renders call event records into canonical JSON documents.
type Formatter struct {
	logger *slog.Logger
}

// FormatterOption configures the Formatter.
type FormatterOption func(*Formatter)

// WithFormatterLogger sets the logger.
func WithFormatterLogger(logger *slog.Logger) FormatterOption {
	return func(f *Formatter) {
		f.logger = logger
	}
}

// NewFormatter creates a new formatter.
func NewFormatter(options ...FormatterOption) *Formatter {
	f := &Formatter{
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(f)
	}

	return f
}

// Format produces the JSON document for a record. A record whose event type
// has no registered name is a formatting error; a malformed extra payload is
// not, it degrades to a plain JSON string. No partial document is ever
// returned.
func (f *Formatter) Format(r *Record) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("cel: record cannot be nil")
	}

	name := r.Name()
	if name == "" && r.EventType != UserDefined {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEventType, int(r.EventType))
	}

	doc := document{
		EventName:   name,
		AccountCode: r.AccountCode,
		CallerID: callerID{
			Num:   r.CallerIDNum,
			Name:  r.CallerIDName,
			ANI:   r.CallerIDANI,
			RDNIS: r.CallerIDRDNIS,
			DNID:  r.CallerIDDNID,
		},
		Extension:   r.Extension,
		Context:     r.Context,
		Channel:     r.ChannelName,
		Application: r.ApplicationName,
		AppData:     r.ApplicationData,
		EventTime:   r.EventTime.Format(eventTimeLayout),
		AMAFlags:    r.AMAFlag.String(),
		UniqueID:    r.UniqueID,
		LinkedID:    r.LinkedID,
		UserField:   r.UserField,
		Peer:        r.Peer,
		PeerAccount: r.PeerAccount,
		Extra:       f.extraValue(r.Extra),
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("cel: failed to encode event document: %w", err)
	}

	return body, nil
}

// extraValue maps the free-form extra payload to its JSON form: null when
// empty, the parsed value when the payload is valid JSON, otherwise the raw
// text wrapped as a JSON string.
func (f *Formatter) extraValue(extra string) json.RawMessage {
	if extra == "" {
		return json.RawMessage("null")
	}

	raw := []byte(extra)
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}

	f.logger.Error("failed to parse extra field, keeping it as a string")

	// Marshal of a plain string cannot fail.
	wrapped, _ := json.Marshal(extra)
	return json.RawMessage(wrapped)
}
