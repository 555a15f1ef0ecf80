package triage

import (
	"context"
	"time"
)

// StateStore persists RoomState records. Durable storage is the source of
// truth on startup; the in-memory map is a disposable cache on top of it.
type StateStore interface {
	LoadAll(ctx context.Context) ([]*RoomState, error)
	Save(ctx context.Context, st *RoomState) error
	SaveAll(ctx context.Context, states []*RoomState) error
}

// IssueStore is append-only issue creation plus the scoped reads the
// duplicate detector needs.
type IssueStore interface {
	Create(ctx context.Context, is *Issue) error
	ListSince(ctx context.Context, since time.Time) ([]*Issue, error)
	ListRoomSince(ctx context.Context, roomID string, since time.Time) ([]*Issue, error)
}

// AlertEventStore persists alert dedup/escalation events, keyed by dedup key.
type AlertEventStore interface {
	GetByDedupKey(ctx context.Context, key string) (*AlertEvent, bool, error)
	Put(ctx context.Context, ev *AlertEvent) error
}

// MessageStore is the archived chat message log the poller reads from and
// the ingestion hook appends to.
type MessageStore interface {
	// Append stores a batch, skipping messages whose IDs already exist.
	// Returns the number of newly stored messages.
	Append(ctx context.Context, msgs []*Message) (int, error)

	// ActiveRooms lists rooms with at least one message after since.
	ActiveRooms(ctx context.Context, since time.Time) ([]string, error)

	// RoomMessagesAfter returns up to limit messages for a room strictly
	// after the cursor, oldest first.
	RoomMessagesAfter(ctx context.Context, roomID string, after time.Time, limit int) ([]*Message, error)

	// RecentRoomMessages returns up to limit of the newest messages at or
	// after since, reordered oldest first. This is the analysis context
	// window; noise messages are included so the model sees the full flow.
	RecentRoomMessages(ctx context.Context, roomID string, since time.Time, limit int) ([]*Message, error)

	// LatestMessageTime returns the newest message timestamp for a room.
	LatestMessageTime(ctx context.Context, roomID string) (time.Time, bool, error)

	// RoomsWithSenders lists rooms where any of the given senders has
	// posted. Used to exclude whole rooms from triage.
	RoomsWithSenders(ctx context.Context, senders []string) ([]string, error)
}

// Notifier delivers an outbound notification. Implementations are
// fire-and-forget; errors are logged by callers, never retried inline.
type Notifier interface {
	Send(ctx context.Context, n *Notification) error
}
