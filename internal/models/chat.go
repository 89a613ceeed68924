package models

import "time"

// Chat represents one conversation in the recent-chats directory. Its
// lifecycle is independent from any open chat screen: an entry is created
// optimistically when the stream reports a new chat, its title is mutated in
// place when a title is generated, and it is removed on explicit delete.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatGroups buckets chats by age for the sidebar listing.
type ChatGroups struct {
	Today     []Chat
	LastWeek  []Chat
	LastMonth []Chat
	Older     []Chat
}

// GroupChats splits chats into age buckets relative to now. The buckets keep
// the input order within themselves.
func GroupChats(chats []Chat, now time.Time) ChatGroups {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	lastWeek := today.AddDate(0, 0, -7)
	lastMonth := today.AddDate(0, 0, -30)

	var groups ChatGroups
	for _, ch := range chats {
		switch {
		case !ch.CreatedAt.Before(today):
			groups.Today = append(groups.Today, ch)
		case !ch.CreatedAt.Before(lastWeek):
			groups.LastWeek = append(groups.LastWeek, ch)
		case !ch.CreatedAt.Before(lastMonth):
			groups.LastMonth = append(groups.LastMonth, ch)
		default:
			groups.Older = append(groups.Older, ch)
		}
	}
	return groups
}
