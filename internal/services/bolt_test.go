package services_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartdocai/smartdoc-web-ui/internal/models"
	"github.com/smartdocai/smartdoc-web-ui/internal/services"
)

func newTestDB(t *testing.T) services.BoltDB {
	t.Helper()
	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewBoltDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBoltDBChats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	older := models.Chat{ID: "c1", Title: "Older", CreatedAt: base}
	newer := models.Chat{ID: "c2", Title: "Newer", CreatedAt: base.Add(time.Hour)}

	if err := db.PutChat(ctx, older); err != nil {
		t.Fatalf("PutChat() error = %v", err)
	}
	if err := db.PutChat(ctx, newer); err != nil {
		t.Fatalf("PutChat() error = %v", err)
	}

	chats, err := db.Chats(ctx)
	if err != nil {
		t.Fatalf("Chats() error = %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	if chats[0].ID != "c2" || chats[1].ID != "c1" {
		t.Errorf("chats not in most-recent-first order: %+v", chats)
	}

	// Upsert replaces rather than duplicates.
	older.Title = "Renamed"
	if err := db.PutChat(ctx, older); err != nil {
		t.Fatalf("PutChat() error = %v", err)
	}
	chats, err = db.Chats(ctx)
	if err != nil {
		t.Fatalf("Chats() error = %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats after upsert, want 2", len(chats))
	}
	if chats[1].Title != "Renamed" {
		t.Errorf("title = %q, want %q", chats[1].Title, "Renamed")
	}
}

func TestBoltDBMessages(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.PutChat(ctx, models.Chat{ID: "c1", Title: "Test"}); err != nil {
		t.Fatalf("PutChat() error = %v", err)
	}

	msgs := []models.Message{
		{ID: "m1", Role: models.RoleUser, Content: "question"},
		{ID: "m2", Role: models.RoleAssistant, Content: "answer"},
	}
	for _, msg := range msgs {
		if err := db.AddMessage(ctx, "c1", msg); err != nil {
			t.Fatalf("AddMessage() error = %v", err)
		}
	}

	got, err := db.Messages(ctx, "c1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Errorf("messages out of order: %+v", got)
	}

	if err := db.UpdateMessage(ctx, "c1", models.Message{
		ID: "m2", Role: models.RoleAssistant, Content: "revised answer",
	}); err != nil {
		t.Fatalf("UpdateMessage() error = %v", err)
	}
	got, err = db.Messages(ctx, "c1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if got[1].Content != "revised answer" {
		t.Errorf("content = %q, want %q", got[1].Content, "revised answer")
	}

	// Updating an unknown id is silently ignored.
	if err := db.UpdateMessage(ctx, "c1", models.Message{ID: "missing"}); err != nil {
		t.Fatalf("UpdateMessage() error = %v", err)
	}
	got, _ = db.Messages(ctx, "c1")
	if len(got) != 2 {
		t.Errorf("got %d messages, want 2", len(got))
	}
}

func TestBoltDBAddMessageUnknownChat(t *testing.T) {
	db := newTestDB(t)

	err := db.AddMessage(context.Background(), "nope", models.Message{ID: "m1"})
	if err == nil {
		t.Fatal("AddMessage() should fail for an unknown chat")
	}
}

func TestBoltDBDeleteChat(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.PutChat(ctx, models.Chat{ID: "c1", Title: "Doomed"}); err != nil {
		t.Fatalf("PutChat() error = %v", err)
	}
	if err := db.AddMessage(ctx, "c1", models.Message{ID: "m1", Content: "hello"}); err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}

	if err := db.DeleteChat(ctx, "c1"); err != nil {
		t.Fatalf("DeleteChat() error = %v", err)
	}

	chats, err := db.Chats(ctx)
	if err != nil {
		t.Fatalf("Chats() error = %v", err)
	}
	if len(chats) != 0 {
		t.Errorf("got %d chats, want 0", len(chats))
	}

	msgs, err := db.Messages(ctx, "c1")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages, want 0", len(msgs))
	}

	if err := db.DeleteChat(ctx, "never-existed"); err != nil {
		t.Fatalf("DeleteChat() of unknown id error = %v", err)
	}
}
