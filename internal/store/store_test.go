package store

import (
	"path/filepath"
	"testing"

	"chatsync/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func msg(id, chatID string, ts int64) *model.Message {
	return &model.Message{
		ID: id, ChatID: chatID, SenderID: "u1",
		Text: "hello", Timestamp: ts, Status: model.StatusPending,
	}
}

func TestQueueAndListOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox(msg("m2", "c1", 2000)); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox(msg("m1", "c1", 1000)); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox(msg("m3", "c2", 1500)); err != nil {
		t.Fatal(err)
	}

	entries, err := db.OutboxForChat("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries for c1, want 2", len(entries))
	}
	if entries[0].ID != "m1" || entries[1].ID != "m2" {
		t.Errorf("order = [%s %s], want [m1 m2]", entries[0].ID, entries[1].ID)
	}

	all, err := db.AllOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d entries total, want 3", len(all))
	}
	if all[0].ID != "m1" || all[1].ID != "m3" || all[2].ID != "m2" {
		t.Errorf("flush order = [%s %s %s], want [m1 m3 m2]",
			all[0].ID, all[1].ID, all[2].ID)
	}
}

func TestQueueOutboxDuplicateID(t *testing.T) {
	db := testDB(t)
	if err := db.QueueOutbox(msg("m1", "c1", 1000)); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox(msg("m1", "c1", 1000)); err == nil {
		t.Error("duplicate msg_id enqueue should fail")
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)
	if err := db.QueueOutbox(msg("m1", "c1", 1000)); err != nil {
		t.Fatal(err)
	}

	if err := db.RecordAttempt("m1", 1100); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("m1", "connection reset"); err != nil {
		t.Fatal(err)
	}

	e, err := db.GetOutbox("m1")
	if err != nil {
		t.Fatal(err)
	}
	if e == nil {
		t.Fatal("entry missing")
	}
	if e.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", e.Status)
	}
	if e.Attempts != 1 || e.LastAttemptAt != 1100 {
		t.Errorf("attempts = %d at %d, want 1 at 1100", e.Attempts, e.LastAttemptAt)
	}
	if e.ErrorMessage != "connection reset" {
		t.Errorf("error = %q", e.ErrorMessage)
	}

	if err := db.MarkOutboxPending("m1"); err != nil {
		t.Fatal(err)
	}
	e, _ = db.GetOutbox("m1")
	if e.Status != model.StatusPending || e.ErrorMessage != "" {
		t.Errorf("after retry reset: status = %s, error = %q", e.Status, e.ErrorMessage)
	}

	if err := db.RemoveOutbox("m1"); err != nil {
		t.Fatal(err)
	}
	e, err = db.GetOutbox("m1")
	if err != nil {
		t.Fatal(err)
	}
	if e != nil {
		t.Error("entry still present after remove")
	}
}

func TestReadState(t *testing.T) {
	db := testDB(t)

	at, err := db.LastRead("c1")
	if err != nil {
		t.Fatal(err)
	}
	if at != 0 {
		t.Errorf("default last read = %d, want 0", at)
	}

	if err := db.SetLastRead("c1", 5000); err != nil {
		t.Fatal(err)
	}
	if err := db.SetLastRead("c1", 7000); err != nil {
		t.Fatal(err)
	}

	at, err = db.LastRead("c1")
	if err != nil {
		t.Fatal(err)
	}
	if at != 7000 {
		t.Errorf("last read = %d, want 7000", at)
	}
}

func TestContactCache(t *testing.T) {
	db := testDB(t)

	name, err := db.ContactName("u2")
	if err != nil {
		t.Fatal(err)
	}
	if name != "" {
		t.Errorf("unknown contact name = %q, want empty", name)
	}

	if err := db.UpsertContact("u2", "Alice"); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertContact("u2", "Alice B"); err != nil {
		t.Fatal(err)
	}

	name, err = db.ContactName("u2")
	if err != nil {
		t.Fatal(err)
	}
	if name != "Alice B" {
		t.Errorf("name = %q, want Alice B", name)
	}
}
