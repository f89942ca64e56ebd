package offline

import (
	"encoding/json"
	"time"
)

// Basket is a savings goal. Amounts are minor currency units.
type Basket struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	GoalAmount    int64     `json:"goal_amount"`
	CurrentAmount int64     `json:"current_amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status,omitempty"`
	LastModified  time.Time `json:"last_modified"`
}

// ImageBlob is a cached binary image, e.g. a basket cover or avatar.
type ImageBlob struct {
	ID           string    `json:"id"`
	ContentType  string    `json:"content_type"`
	Data         []byte    `json:"data"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Preference is one user preference value keyed by name.
type Preference struct {
	Key          string          `json:"key"`
	Value        json.RawMessage `json:"value"`
	LastModified time.Time       `json:"last_modified"`
}
