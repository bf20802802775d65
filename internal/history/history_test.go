package history_test

import (
	"testing"
	"time"

	"gridwell/internal/db"
	"gridwell/internal/domain"
	"gridwell/internal/history"
	"gridwell/internal/migrate"
)

func newTestWriter(t *testing.T) history.Writer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return history.Writer{
		DB:  conn,
		Now: func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestRecordAndReadChanges(t *testing.T) {
	w := newTestWriter(t)
	changes := []domain.GridChange{
		{ID: "c1", SessionID: "s1", Type: domain.ChangeCellUpdate, Position: domain.CellPosition{Row: 2, Col: 1}, OldValue: "a", NewValue: "b", UserID: "alice", Timestamp: 100},
		{ID: "c2", SessionID: "s1", Type: domain.ChangeRowInsert, Position: domain.CellPosition{Row: 3}, NewValue: "x", UserID: "bob", Timestamp: 200},
		{ID: "c3", SessionID: "other", Type: domain.ChangeCellUpdate, UserID: "carol", Timestamp: 300},
	}
	for _, c := range changes {
		if err := w.RecordChange(c); err != nil {
			t.Fatalf("record %s: %v", c.ID, err)
		}
	}
	got, err := history.ChangesForSession(w.DB, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "c1" || got[1].ID != "c2" {
		t.Fatalf("changes %+v", got)
	}
	if got[0].OldValue != "a" || got[0].NewValue != "b" {
		t.Fatalf("values did not round-trip: %+v", got[0])
	}
	if got[0].Position.Row != 2 || got[0].Position.Col != 1 {
		t.Fatalf("position %+v", got[0].Position)
	}
}

func TestSessionEventCursor(t *testing.T) {
	w := newTestWriter(t)
	if id, err := history.LatestEventID(w.DB); err != nil || id != 0 {
		t.Fatalf("empty log: id=%d err=%v", id, err)
	}
	for _, ev := range []string{"session.joined", "session.left", "session.destroyed"} {
		if err := w.RecordSessionEvent(ev, "s1", "alice"); err != nil {
			t.Fatalf("record %s: %v", ev, err)
		}
	}
	latest, err := history.LatestEventID(w.DB)
	if err != nil {
		t.Fatal(err)
	}
	if latest == 0 {
		t.Fatal("latest id still zero after writes")
	}

	events, err := history.EventsAfter(w.DB, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || events[0].Type != "session.joined" || events[2].Type != "session.destroyed" {
		t.Fatalf("events %+v", events)
	}
	if events[0].TS != "2024-06-01T12:00:00Z" {
		t.Fatalf("ts %q", events[0].TS)
	}

	tail, err := history.EventsAfter(w.DB, events[1].ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 1 || tail[0].ID != latest {
		t.Fatalf("cursor tail %+v", tail)
	}
}
