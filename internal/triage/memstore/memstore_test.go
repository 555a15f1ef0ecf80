package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/junxiaogit/wecom-ai-platform/internal/triage"
)

func msg(id, room, sender, text string, at time.Time) *triage.Message {
	return &triage.Message{ID: id, RoomID: room, Sender: sender, Text: text, SentAt: at}
}

func TestStore_AppendDedupesByID(t *testing.T) {
	t.Parallel()

	s := New()
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	batch := []*triage.Message{
		msg("m-1", "room-a", "u1", "登录报错", at),
		msg("m-2", "room-a", "u2", "我也是", at.Add(time.Second)),
	}

	n, err := s.Append(context.Background(), batch)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if n != 2 {
		t.Errorf("stored = %d, want 2", n)
	}

	n, err = s.Append(context.Background(), []*triage.Message{
		msg("m-2", "room-a", "u2", "我也是", at.Add(time.Second)),
		msg("m-3", "room-a", "u3", "+1", at.Add(2*time.Second)),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if n != 1 {
		t.Errorf("stored = %d, want only the unseen message", n)
	}
}

func TestStore_RoomMessagesAfter(t *testing.T) {
	t.Parallel()

	s := New()
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	_, _ = s.Append(context.Background(), []*triage.Message{
		msg("m-1", "room-a", "u1", "first", at),
		msg("m-2", "room-a", "u1", "second", at.Add(time.Minute)),
		msg("m-3", "room-b", "u1", "other room", at.Add(time.Minute)),
	})

	got, err := s.RoomMessagesAfter(context.Background(), "room-a", at, 10)
	if err != nil {
		t.Fatalf("RoomMessagesAfter: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m-2" {
		t.Errorf("got %d messages, want only the one strictly after the cursor", len(got))
	}
}

func TestStore_RecentRoomMessages_WindowAndOrder(t *testing.T) {
	t.Parallel()

	s := New()
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	var batch []*triage.Message
	for i := 0; i < 5; i++ {
		batch = append(batch, msg(
			"m-"+string(rune('a'+i)), "room-a", "u1", "text",
			at.Add(time.Duration(i)*time.Minute)))
	}
	_, _ = s.Append(context.Background(), batch)

	got, err := s.RecentRoomMessages(context.Background(), "room-a", at, 3)
	if err != nil {
		t.Fatalf("RecentRoomMessages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want the newest 3", len(got))
	}
	// Newest three, reordered oldest first.
	if got[0].ID != "m-c" || got[2].ID != "m-e" {
		t.Errorf("window = [%s..%s], want [m-c..m-e]", got[0].ID, got[2].ID)
	}
	for i := 1; i < len(got); i++ {
		if got[i].SentAt.Before(got[i-1].SentAt) {
			t.Fatal("window must be oldest first")
		}
	}
}

func TestStore_ActiveRoomsAndSenders(t *testing.T) {
	t.Parallel()

	s := New()
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	_, _ = s.Append(context.Background(), []*triage.Message{
		msg("m-1", "room-a", "alice", "hi", at),
		msg("m-2", "room-b", "bot", "automated", at),
	})

	rooms, err := s.ActiveRooms(context.Background(), at.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ActiveRooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Errorf("rooms = %v, want both", rooms)
	}

	rooms, err = s.ActiveRooms(context.Background(), at)
	if err != nil {
		t.Fatalf("ActiveRooms: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("rooms = %v, want none at the boundary", rooms)
	}

	botRooms, err := s.RoomsWithSenders(context.Background(), []string{"bot"})
	if err != nil {
		t.Fatalf("RoomsWithSenders: %v", err)
	}
	if len(botRooms) != 1 || botRooms[0] != "room-b" {
		t.Errorf("botRooms = %v, want [room-b]", botRooms)
	}
}

func TestStore_RoomStateRoundTrip(t *testing.T) {
	t.Parallel()

	s := New()
	st := &triage.RoomState{RoomID: "room-a", PendingCount: 3, Cursor: time.Now()}
	if err := s.Save(context.Background(), st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Mutating the original must not affect the stored copy.
	st.PendingCount = 99

	all, err := s.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 1 || all[0].PendingCount != 3 {
		t.Errorf("LoadAll = %+v, want the saved copy", all)
	}
}

func TestStore_IssuesSince(t *testing.T) {
	t.Parallel()

	s := New()
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	_ = s.Create(context.Background(), &triage.Issue{ID: "i-1", RoomID: "room-a", Phenomenon: "旧问题", CreatedAt: at.Add(-48 * time.Hour)})
	_ = s.Create(context.Background(), &triage.Issue{ID: "i-2", RoomID: "room-a", Phenomenon: "新问题", CreatedAt: at})
	_ = s.Create(context.Background(), &triage.Issue{ID: "i-3", RoomID: "room-b", Phenomenon: "别的群", CreatedAt: at})

	got, err := s.ListSince(context.Background(), at.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ListSince = %d issues, want 2", len(got))
	}

	got, err = s.ListRoomSince(context.Background(), "room-a", at.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListRoomSince: %v", err)
	}
	if len(got) != 1 || got[0].ID != "i-2" {
		t.Errorf("ListRoomSince = %+v, want only i-2", got)
	}
}

func TestStore_AlertEventRoundTrip(t *testing.T) {
	t.Parallel()

	s := New()
	if _, ok, err := s.GetByDedupKey(context.Background(), "missing"); err != nil || ok {
		t.Fatalf("GetByDedupKey(missing) = ok=%v err=%v, want absent", ok, err)
	}

	sent := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	ev := &triage.AlertEvent{
		ID: "e-1", RoomID: "room-a", DedupKey: "room-a",
		Level: triage.LevelP1, HitCount: 2,
		FirstSeenAt: sent, LastSeenAt: sent, LastSentAt: &sent,
	}
	if err := s.Put(context.Background(), ev); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.GetByDedupKey(context.Background(), "room-a")
	if err != nil || !ok {
		t.Fatalf("GetByDedupKey = ok=%v err=%v", ok, err)
	}
	if got.Level != triage.LevelP1 || got.HitCount != 2 || got.LastSentAt == nil {
		t.Errorf("got %+v, want stored event", got)
	}

	// The stored pointer must be independent of the caller's.
	*got.LastSentAt = sent.Add(time.Hour)
	again, _, _ := s.GetByDedupKey(context.Background(), "room-a")
	if !again.LastSentAt.Equal(sent) {
		t.Error("stored LastSentAt must not alias returned copies")
	}
}
