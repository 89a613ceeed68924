package chat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/smartdocai/smartdoc-web-ui/internal/api"
	"github.com/smartdocai/smartdoc-web-ui/internal/models"
)

// Lister is the slice of the backend client used by the directory: paginated
// chat listing and delete-by-id.
type Lister interface {
	Chats(ctx context.Context, page, pageSize int) (api.ChatPage, error)
	DeleteChat(ctx context.Context, chatID string) error
}

// ChatCache persists the recent-chats listing locally so the sidebar renders
// before the first backend round-trip.
type ChatCache interface {
	Chats(ctx context.Context) ([]models.Chat, error)
	PutChat(ctx context.Context, chat models.Chat) error
	DeleteChat(ctx context.Context, chatID string) error
}

const directoryPageSize = 20

// Directory maintains the sidebar list of chats. Its lifecycle is independent
// from any open chat screen, and it is shared read/write across all screens:
// entries are upserted optimistically when a stream creates a chat, titles
// are mutated in place when the stream generates one, and entries are removed
// on explicit delete. Upserts are idempotent; inserting an id that already
// exists changes nothing.
type Directory struct {
	remote Lister
	cache  ChatCache
	logger *slog.Logger

	mu       sync.Mutex
	entries  []models.Chat
	page     int
	hasNext  bool
	onChange func([]models.Chat)
}

// NewDirectory creates a Directory backed by remote. cache may be nil to
// disable local persistence.
func NewDirectory(remote Lister, cache ChatCache, logger *slog.Logger) *Directory {
	return &Directory{
		remote: remote,
		cache:  cache,
		logger: logger.With(slog.String("module", "directory")),
	}
}

// SetOnChange registers a callback invoked with a snapshot of the listing
// after every mutation.
func (d *Directory) SetOnChange(fn func([]models.Chat)) {
	d.mu.Lock()
	d.onChange = fn
	d.mu.Unlock()
}

// Load replaces the listing with the first page from the backend. When the
// backend is unreachable and a cache is configured, the cached listing is
// served instead.
func (d *Directory) Load(ctx context.Context) error {
	chatPage, err := d.remote.Chats(ctx, 1, directoryPageSize)
	if err != nil {
		if d.cache == nil {
			return fmt.Errorf("failed to list chats: %w", err)
		}
		cached, cacheErr := d.cache.Chats(ctx)
		if cacheErr != nil {
			return fmt.Errorf("failed to list chats: %w", err)
		}
		d.logger.Warn("Serving chats from local cache", slog.String("err", err.Error()))
		d.replace(cached, 1, false)
		return nil
	}

	d.replace(chatPage.Results, chatPage.CurrentPage, chatPage.HasNext)
	d.cachePut(ctx, chatPage.Results...)
	return nil
}

// LoadMore appends the next page, if there is one.
func (d *Directory) LoadMore(ctx context.Context) error {
	d.mu.Lock()
	if !d.hasNext {
		d.mu.Unlock()
		return nil
	}
	next := d.page + 1
	d.mu.Unlock()

	chatPage, err := d.remote.Chats(ctx, next, directoryPageSize)
	if err != nil {
		return fmt.Errorf("failed to list chats: %w", err)
	}

	d.mu.Lock()
	for _, ch := range chatPage.Results {
		if !slices.ContainsFunc(d.entries, func(e models.Chat) bool { return e.ID == ch.ID }) {
			d.entries = append(d.entries, ch)
		}
	}
	d.page = chatPage.CurrentPage
	d.hasNext = chatPage.HasNext
	snapshot, fn := slices.Clone(d.entries), d.onChange
	d.mu.Unlock()

	d.cachePut(ctx, chatPage.Results...)
	d.notify(snapshot, fn)
	return nil
}

// Upsert inserts chat at the head of the listing. If an entry with the same
// id already exists, the insert is a no-op.
func (d *Directory) Upsert(chat models.Chat) {
	d.mu.Lock()
	if slices.ContainsFunc(d.entries, func(e models.Chat) bool { return e.ID == chat.ID }) {
		d.mu.Unlock()
		return
	}
	d.entries = slices.Insert(d.entries, 0, chat)
	snapshot, fn := slices.Clone(d.entries), d.onChange
	d.mu.Unlock()

	d.cachePut(context.Background(), chat)
	d.notify(snapshot, fn)
}

// SetTitle updates the title of an existing entry in place. Unknown ids are
// ignored.
func (d *Directory) SetTitle(chatID, title string) {
	d.mu.Lock()
	idx := slices.IndexFunc(d.entries, func(e models.Chat) bool { return e.ID == chatID })
	if idx == -1 {
		d.mu.Unlock()
		return
	}
	d.entries[idx].Title = title
	d.entries[idx].UpdatedAt = time.Now()
	updated := d.entries[idx]
	snapshot, fn := slices.Clone(d.entries), d.onChange
	d.mu.Unlock()

	d.cachePut(context.Background(), updated)
	d.notify(snapshot, fn)
}

// Remove deletes the chat on the backend and drops it from the listing.
func (d *Directory) Remove(ctx context.Context, chatID string) error {
	if err := d.remote.DeleteChat(ctx, chatID); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}

	d.mu.Lock()
	d.entries = slices.DeleteFunc(d.entries, func(e models.Chat) bool { return e.ID == chatID })
	snapshot, fn := slices.Clone(d.entries), d.onChange
	d.mu.Unlock()

	if d.cache != nil {
		if err := d.cache.DeleteChat(ctx, chatID); err != nil {
			d.logger.Error("Failed to drop chat from cache", slog.String("err", err.Error()))
		}
	}
	d.notify(snapshot, fn)
	return nil
}

// Chats returns a snapshot of the listing, most recent first.
func (d *Directory) Chats() []models.Chat {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.entries)
}

// Grouped returns the listing bucketed by age for the sidebar.
func (d *Directory) Grouped(now time.Time) models.ChatGroups {
	return models.GroupChats(d.Chats(), now)
}

// HasMore reports whether further pages remain on the backend.
func (d *Directory) HasMore() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasNext
}

func (d *Directory) replace(entries []models.Chat, page int, hasNext bool) {
	d.mu.Lock()
	d.entries = slices.Clone(entries)
	d.page = page
	d.hasNext = hasNext
	snapshot, fn := slices.Clone(d.entries), d.onChange
	d.mu.Unlock()

	d.notify(snapshot, fn)
}

func (d *Directory) cachePut(ctx context.Context, chats ...models.Chat) {
	if d.cache == nil {
		return
	}
	for _, ch := range chats {
		if err := d.cache.PutChat(ctx, ch); err != nil {
			d.logger.Error("Failed to cache chat", slog.String("err", err.Error()))
			return
		}
	}
}

func (d *Directory) notify(snapshot []models.Chat, fn func([]models.Chat)) {
	if fn != nil {
		fn(snapshot)
	}
}
