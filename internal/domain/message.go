package domain

// MessageKind tags one message of the worker -> dispatcher stream
type MessageKind string

const (
	MessageProgress    MessageKind = "progress"
	MessageEvent       MessageKind = "event"
	MessageSnapshot    MessageKind = "snapshot"
	MessageDone        MessageKind = "done"
	MessageError       MessageKind = "error"
	MessageConfigError MessageKind = "config_error"
)

// Message is one element of the stream. Exactly one payload field is set,
// matching Kind.
type Message struct {
	Kind     MessageKind `json:"type" msgpack:"type"`
	BatchID  string      `json:"batch_id,omitempty" msgpack:"batch_id,omitempty"`
	Progress *Progress   `json:"progress,omitempty" msgpack:"progress,omitempty"`
	Event    *Event      `json:"event,omitempty" msgpack:"event,omitempty"`
	Snapshot *Snapshot   `json:"snapshot,omitempty" msgpack:"snapshot,omitempty"`
	Done     *Done       `json:"done,omitempty" msgpack:"done,omitempty"`
	Error    *ErrorInfo  `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Snapshot carries a derived whole-state payload
type Snapshot struct {
	Kind SnapshotKind `json:"kind" msgpack:"kind"`
	Data interface{}  `json:"data" msgpack:"data"`
}

// Done reports the watermarks reached by a batch. Only files that were read
// to completion appear in it.
type Done struct {
	Checkpoints Checkpoints          `json:"checkpoints" msgpack:"checkpoints"`
	Watermarks  map[string]Watermark `json:"watermarks" msgpack:"watermarks"`
	Events      int                  `json:"events" msgpack:"events"`
}

// ErrorInfo describes a failure attributed to the narrowest scope known.
// File is empty for batch-level failures.
type ErrorInfo struct {
	File    string `json:"file,omitempty" msgpack:"file,omitempty"`
	Message string `json:"message" msgpack:"message"`
	Fatal   bool   `json:"fatal" msgpack:"fatal"` // The batch terminated without done
}

// EventMessage wraps an event
func EventMessage(batchID string, ev Event) Message {
	return Message{Kind: MessageEvent, BatchID: batchID, Event: &ev}
}

// SnapshotMessage wraps a snapshot payload
func SnapshotMessage(batchID string, kind SnapshotKind, data interface{}) Message {
	return Message{Kind: MessageSnapshot, BatchID: batchID, Snapshot: &Snapshot{Kind: kind, Data: data}}
}
