package offline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxRetries is the default number of failed replays an action survives.
const MaxRetries = 3

// QueueStorageKey is the single pending_actions key holding the queue.
const QueueStorageKey = "offline_queue"

type ActionType string

const (
	ActionContribution   ActionType = "contribution"
	ActionBasketCreation ActionType = "basket_creation"
	ActionProfileUpdate  ActionType = "profile_update"
)

func ParseActionType(raw string) (ActionType, error) {
	switch t := ActionType(strings.TrimSpace(raw)); t {
	case ActionContribution, ActionBasketCreation, ActionProfileUpdate:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidActionType, raw)
	}
}

// QueuedAction is a mutating operation deferred until connectivity returns.
// The JSON shape is the persisted queue record.
type QueuedAction struct {
	ID         string          `json:"id"`
	Type       ActionType      `json:"type"`
	Payload    json.RawMessage `json:"data"`
	EnqueuedAt time.Time       `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
}

// EncodeQueue serialises the queue into its persisted form.
func EncodeQueue(actions []QueuedAction) (string, error) {
	if actions == nil {
		actions = []QueuedAction{}
	}
	raw, err := json.Marshal(actions)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SkippedRecord is a persisted queue entry that could not be decoded.
type SkippedRecord struct {
	Index int
	Raw   json.RawMessage
	Err   error
}

// DecodeQueue parses the persisted queue. Empty input is an empty queue.
// Records that do not decode, or carry an unknown type, are returned in
// skipped and left out of the queue; only a malformed list is an error.
func DecodeQueue(raw string) ([]QueuedAction, []SkippedRecord, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, nil, err
	}
	actions := make([]QueuedAction, 0, len(records))
	var skipped []SkippedRecord
	for i, rec := range records {
		var action QueuedAction
		if err := json.Unmarshal(rec, &action); err != nil {
			skipped = append(skipped, SkippedRecord{Index: i, Raw: rec, Err: err})
			continue
		}
		if _, err := ParseActionType(string(action.Type)); err != nil {
			skipped = append(skipped, SkippedRecord{Index: i, Raw: rec, Err: err})
			continue
		}
		actions = append(actions, action)
	}
	return actions, skipped, nil
}
