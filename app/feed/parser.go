package feed

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

type Parser struct {
	gofeedParser *gofeed.Parser
	now          func() time.Time
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
		now:          time.Now,
	}
}

// Parse reads RSS, Atom or JSON feed data. Every returned item has a GUID and
// a publish time, so posts can be deduplicated per owner.
func (p *Parser) Parse(data []byte) (*Feed, error) {
	parsed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	feed := &Feed{
		Title: strings.TrimSpace(parsed.Title),
		Items: make([]Item, 0, len(parsed.Items)),
	}
	for _, entry := range parsed.Items {
		if entry == nil {
			continue
		}
		feed.Items = append(feed.Items, p.item(entry))
	}

	return feed, nil
}

func (p *Parser) item(entry *gofeed.Item) Item {
	item := Item{
		Title:   strings.TrimSpace(entry.Title),
		Link:    strings.TrimSpace(entry.Link),
		Content: cmp.Or(strings.TrimSpace(entry.Content), strings.TrimSpace(entry.Description)),
	}

	switch {
	case entry.PublishedParsed != nil:
		item.PublishedAt = *entry.PublishedParsed
	case entry.UpdatedParsed != nil:
		item.PublishedAt = *entry.UpdatedParsed
	default:
		item.PublishedAt = p.now()
	}

	item.ContentHash = contentHash(item)
	item.GUID = cmp.Or(strings.TrimSpace(entry.GUID), item.Link, item.ContentHash)
	return item
}

func contentHash(item Item) string {
	hash := sha256.Sum256([]byte(item.Title + "|" + item.Link + "|" + item.Content))
	return hex.EncodeToString(hash[:])
}
