package offline

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestQueueRecordRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	in := []QueuedAction{{
		ID:         "a-1",
		Type:       ActionContribution,
		Payload:    json.RawMessage(`{"basket_id":"b-1","amount":500}`),
		EnqueuedAt: at,
		RetryCount: 2,
	}}

	raw, err := EncodeQueue(in)
	if err != nil {
		t.Fatalf("EncodeQueue() error = %v", err)
	}

	var wire []map[string]any
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("decode wire: %v", err)
	}
	for _, key := range []string{"id", "type", "data", "timestamp", "retryCount"} {
		if _, ok := wire[0][key]; !ok {
			t.Fatalf("wire record missing %q: %s", key, raw)
		}
	}

	out, skipped, err := DecodeQueue(raw)
	if err != nil || len(skipped) != 0 {
		t.Fatalf("DecodeQueue() skipped = %v, error = %v", skipped, err)
	}
	if len(out) != 1 || out[0].ID != "a-1" || out[0].RetryCount != 2 {
		t.Fatalf("DecodeQueue() = %+v", out)
	}
	if !out[0].EnqueuedAt.Equal(at) {
		t.Fatalf("timestamp = %s, want %s", out[0].EnqueuedAt, at)
	}
}

func TestDecodeQueueAcceptsMillisecondTimestamps(t *testing.T) {
	raw := `[{"id":"x","type":"profile_update","data":{},"timestamp":"2026-01-02T03:04:05.678Z","retryCount":0}]`
	out, _, err := DecodeQueue(raw)
	if err != nil {
		t.Fatalf("DecodeQueue() error = %v", err)
	}
	if out[0].EnqueuedAt.Nanosecond() != 678000000 {
		t.Fatalf("timestamp = %s", out[0].EnqueuedAt)
	}
}

func TestDecodeQueueSkipsBadRecords(t *testing.T) {
	raw := `[
		{"id":"a","type":"contribution","data":{},"timestamp":"2026-01-02T03:04:05Z","retryCount":0},
		{"id":"x","type":"withdrawal","data":{},"timestamp":"2026-01-02T03:04:05Z","retryCount":0},
		{"id":"y","type":"profile_update","data":{},"timestamp":"yesterday","retryCount":0},
		{"id":"b","type":"basket_creation","data":{},"timestamp":"2026-01-02T03:04:06Z","retryCount":1}
	]`
	out, skipped, err := DecodeQueue(raw)
	if err != nil {
		t.Fatalf("DecodeQueue() error = %v", err)
	}
	if len(out) != 2 || out[0].ID != "a" || out[1].ID != "b" {
		t.Fatalf("DecodeQueue() = %+v", out)
	}
	if len(skipped) != 2 || skipped[0].Index != 1 || skipped[1].Index != 2 {
		t.Fatalf("skipped = %+v", skipped)
	}
	if !errors.Is(skipped[0].Err, ErrInvalidActionType) {
		t.Fatalf("skipped[0].Err = %v", skipped[0].Err)
	}
}

func TestDecodeQueueRejectsMalformedList(t *testing.T) {
	if _, _, err := DecodeQueue(`{"id":"a"}`); err == nil {
		t.Fatalf("DecodeQueue(object) expected error")
	}
}

func TestDecodeQueueEmpty(t *testing.T) {
	out, skipped, err := DecodeQueue("  ")
	if err != nil || len(out) != 0 || len(skipped) != 0 {
		t.Fatalf("DecodeQueue(empty) = %v, %v", out, err)
	}
}

func TestResponseAge(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	h := http.Header{}
	if got := ResponseAge(h, now); got != 0 {
		t.Fatalf("age without header = %s", got)
	}

	StampCacheDate(h, now.Add(-48*time.Hour))
	if got := ResponseAge(h, now); got != 48*time.Hour {
		t.Fatalf("age = %s", got)
	}

	h.Set(CacheDateHeader, "yesterday")
	if got := ResponseAge(h, now); got != 0 {
		t.Fatalf("age with garbage header = %s", got)
	}
}

func TestParseCollection(t *testing.T) {
	if c, err := ParseCollection(" images "); err != nil || c != CollectionImages {
		t.Fatalf("ParseCollection() = %q, %v", c, err)
	}
	if _, err := ParseCollection("wallets"); !errors.Is(err, ErrUnknownCollection) {
		t.Fatalf("ParseCollection(wallets) error = %v", err)
	}
	if got := MemoryKey(CollectionBaskets, "b1"); got != "baskets_b1" {
		t.Fatalf("MemoryKey() = %q", got)
	}
}
