package fabric

import "time"

// ResourceOp names which of the two request variants the reloader sends
// (spec §4.E Stage 1: "variants SET_RESOURCE1, SET_RESOURCE2").
type ResourceOp int

const (
	ResourceOpSet1 ResourceOp = iota
	ResourceOpSet2
)

// ResourceMsg is a reloader->worker request to adopt a new snapshot.
// Snapshot is an opaque pointer to an immutable resource value; its
// concrete type is owned by internal/resource.
type ResourceMsg struct {
	Op       ResourceOp
	Snapshot any
}

// ResourceAck is the worker->reloader acknowledgment that the new
// snapshot has been adopted and is visible to subsequent resolves.
type ResourceAck struct{}

// NewResourceChannel returns a fresh transactional resource channel.
func NewResourceChannel() *Channel[ResourceMsg, ResourceAck] {
	return NewChannel[ResourceMsg, ResourceAck](ResourceChannelDepth)
}

// QueryLogOp names the one request variant the query-log writer
// sends (spec §4.E Stage 1: "variant QUERY_LOG_FLIP").
type QueryLogOp int

const (
	QueryLogOpFlip QueryLogOp = iota
)

// QueryLogMsg is a writer->worker request to flip the active buffer.
type QueryLogMsg struct {
	Op QueryLogOp
}

// QueryLogAck hands back the previously active buffer's bytes for the
// writer to persist.
type QueryLogAck struct {
	Buf []byte
}

// NewQueryLogChannel returns a fresh transactional query-log channel.
func NewQueryLogChannel() *Channel[QueryLogMsg, QueryLogAck] {
	return NewChannel[QueryLogMsg, QueryLogAck](QueryLogChannelDepth)
}

// AppLogMsg is a fire-and-forget record pushed onto a worker's
// application-log queue.
type AppLogMsg struct {
	Timestamp time.Time
	Text      string
	Fatal     bool
}

// NewAppLogQueue returns a fresh fire-and-forget application-log
// queue of the spec's fixed depth.
func NewAppLogQueue() *Ring[AppLogMsg] {
	return NewRing[AppLogMsg](AppLogQueueDepth)
}
