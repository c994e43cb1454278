// Package cel defines the call event record model and the JSON formatter
// used by the AMQP backend.
//
// This package includes:
//   - Record: one call-lifecycle event, built per event and consumed immediately
//   - EventType and AMAFlag: typed enums for the event tag and billing flag
//   - Formatter: renders a Record into the canonical JSON document
package cel
