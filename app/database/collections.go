package database

import "fmt"

// Collection names a table holding lockable domain items.
type Collection string

const (
	CollectionPosts   Collection = "posts"
	CollectionTags    Collection = "tags"
	CollectionBigrams Collection = "bigrams"
)

// Queue is a backing work queue: the rows of a collection whose Field is still unset.
type Queue struct {
	Collection Collection
	Field      string
}

var queueFields = map[Collection]map[string]bool{
	CollectionPosts:   {"tags": true, "ner": true, "grouping": true},
	CollectionTags:    {"rank": true, "classifications": true},
	CollectionBigrams: {"rank": true},
}

var itemColumns = map[Collection]string{
	CollectionPosts:   "id, owner, title, content, url, '', 0",
	CollectionTags:    "id, owner, '', '', '', tag, freq",
	CollectionBigrams: "id, owner, '', '', '', bigram, freq",
}

// Validate guards the identifiers that end up interpolated into SQL.
func (q Queue) Validate() error {
	fields, ok := queueFields[q.Collection]
	if !ok {
		return fmt.Errorf("unknown collection %q", q.Collection)
	}
	if !fields[q.Field] {
		return fmt.Errorf("unknown field %q for collection %q", q.Field, q.Collection)
	}
	return nil
}

func (q Queue) String() string {
	return string(q.Collection) + "." + q.Field
}

func validCollection(c Collection) error {
	if _, ok := queueFields[c]; !ok {
		return fmt.Errorf("unknown collection %q", c)
	}
	return nil
}

// Collections lists every lockable collection
func Collections() []Collection {
	return []Collection{CollectionPosts, CollectionTags, CollectionBigrams}
}
