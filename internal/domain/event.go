package domain

// EventType names the kind of mutation a ChangeEvent describes.
type EventType string

const (
	EventCreate EventType = "create"
	EventModify EventType = "modify"
	EventDelete EventType = "delete"
	EventRename EventType = "rename"
)

// eventPriority gives the delivery-order rank used when a broadcaster
// flushes a batch sorted by priority: delete > rename > create > modify.
var eventPriority = map[EventType]int{
	EventDelete: 0,
	EventRename: 1,
	EventCreate: 2,
	EventModify: 3,
}

// Priority returns t's delivery-order rank (lower sorts first). Unknown
// types sort last.
func (t EventType) Priority() int {
	if p, ok := eventPriority[t]; ok {
		return p
	}
	return len(eventPriority)
}

// ChangeEvent describes one mutation the Filesystem Engine emitted. OldPath
// is populated only for renames; Size/IsDirectory are best-effort hints for
// subscribers and may be absent (zero value) for deletes.
type ChangeEvent struct {
	Type         EventType
	Path         string
	OldPath      string
	Size         int64
	HasSize      bool
	IsDirectory  bool
	EmittedAtMs  int64
}

// Coalesce merges an incoming event into the pending one for the same path,
// per the broadcaster's coalescing table (spec.md §4.6):
//
//	existing  new     result
//	any       delete  delete
//	create    modify  create
//	create    create  create
//	modify    modify  modify
//	modify    delete  delete
//	rename    modify  rename
//
// The original event's EmittedAtMs is preserved (latency accounting uses
// first-seen time, not last-seen). Coalesce never reorders across paths:
// callers key the pending map by path, so this only ever merges two events
// that already share one.
func Coalesce(existing, incoming ChangeEvent) ChangeEvent {
	merged := incoming
	merged.EmittedAtMs = existing.EmittedAtMs

	switch {
	case incoming.Type == EventDelete:
		merged.Type = EventDelete
	case existing.Type == EventCreate && incoming.Type == EventModify:
		merged.Type = EventCreate
	case existing.Type == EventCreate && incoming.Type == EventCreate:
		merged.Type = EventCreate
	case existing.Type == EventRename && incoming.Type == EventModify:
		merged.Type = EventRename
		merged.OldPath = existing.OldPath
	default:
		merged.Type = incoming.Type
	}
	return merged
}
