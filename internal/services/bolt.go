package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/smartdocai/smartdoc-web-ui/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB stores chats and their transcripts in a local BoltDB file. The web
// client uses it as the recent-chats cache; the dev backend uses it as its
// primary chat store. Chats live in a "chats" bucket keyed by id, messages in
// one bucket per chat keyed by insertion sequence.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB opens (creating if needed, with 0600 permissions) the database at
// path and initializes the chats bucket.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte("chats"))
		return err
	})

	return BoltDB{db: db}, err
}

// Close releases the underlying database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(chatID string) []byte {
	return []byte(fmt.Sprintf("chat-%s", chatID))
}

// Chats returns all stored chats, most recently created first.
func (b BoltDB) Chats(context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("chats"))
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var chat models.Chat
			if err := json.Unmarshal(v, &chat); err != nil {
				return fmt.Errorf("failed to unmarshal chat: %w", err)
			}
			chats = append(chats, chat)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(chats, func(a, c models.Chat) int {
		return c.CreatedAt.Compare(a.CreatedAt)
	})
	return chats, nil
}

// PutChat inserts or replaces a chat record and ensures its message bucket
// exists.
func (b BoltDB) PutChat(_ context.Context, chat models.Chat) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("chats"))
		if bkt == nil {
			return nil
		}

		if _, err := tx.CreateBucketIfNotExists(messageBucketName(chat.ID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(chat)
		if err != nil {
			return fmt.Errorf("failed to marshal chat: %w", err)
		}

		return bkt.Put([]byte(chat.ID), v)
	})
}

// DeleteChat removes a chat record together with its message bucket. Unknown
// ids are silently ignored.
func (b BoltDB) DeleteChat(_ context.Context, chatID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte("chats"))
		if bkt == nil {
			return nil
		}

		if err := bkt.Delete([]byte(chatID)); err != nil {
			return err
		}

		if tx.Bucket(messageBucketName(chatID)) != nil {
			return tx.DeleteBucket(messageBucketName(chatID))
		}
		return nil
	})
}

// Messages returns the transcript of a chat in insertion order.
func (b BoltDB) Messages(_ context.Context, chatID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(chatID))
		if bkt == nil {
			return nil
		}

		return bkt.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage appends a message to a chat's transcript. The message keeps its
// own id; ordering comes from a sequence-derived key.
func (b BoltDB) AddMessage(_ context.Context, chatID string, message models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(chatID))
		if bkt == nil {
			return fmt.Errorf("chat %s not found", chatID)
		}

		seq, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bkt.Put([]byte(fmt.Sprintf("%012d", seq)), v)
	})
}

// UpdateMessage replaces the stored message with the same id. If the message
// doesn't exist, the operation is silently ignored.
func (b BoltDB) UpdateMessage(_ context.Context, chatID string, message models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(messageBucketName(chatID))
		if bkt == nil {
			return nil
		}

		var key []byte
		err := bkt.ForEach(func(k, v []byte) error {
			var existing models.Message
			if err := json.Unmarshal(v, &existing); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			if existing.ID == message.ID {
				key = slices.Clone(k)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if key == nil {
			return nil
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return bkt.Put(key, v)
	})
}
