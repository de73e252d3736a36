package feed

import (
	"time"
)

// Feed is a parsed subscription: its title and the posts it currently carries.
type Feed struct {
	Title string
	Items []Item
}

type Item struct {
	GUID        string
	Title       string
	Link        string
	Content     string // full content, or the summary when the feed has none
	PublishedAt time.Time
	ContentHash string
}
