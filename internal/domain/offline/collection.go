package offline

import "strings"

// Collection names a durable object-store collection.
type Collection string

const (
	CollectionBaskets         Collection = "baskets"
	CollectionImages          Collection = "images"
	CollectionPendingActions  Collection = "pending_actions"
	CollectionUserPreferences Collection = "user_preferences"
)

var allCollections = []Collection{
	CollectionBaskets,
	CollectionImages,
	CollectionPendingActions,
	CollectionUserPreferences,
}

func Collections() []Collection {
	out := make([]Collection, len(allCollections))
	copy(out, allCollections)
	return out
}

func ParseCollection(raw string) (Collection, error) {
	trimmed := Collection(strings.TrimSpace(raw))
	for _, c := range allCollections {
		if c == trimmed {
			return c, nil
		}
	}
	return "", ErrUnknownCollection
}

// MemoryKey is the in-memory acceleration key "<collection>_<id>".
func MemoryKey(c Collection, id string) string {
	return string(c) + "_" + id
}
