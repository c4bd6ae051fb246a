package domain

import (
	"encoding/json"
	"time"
)

// LocalRecord is a locally created record (a manually logged workout, meal,
// or measurement) buffered in the offline queue until it can be uploaded.
// Its lifecycle belongs to the queue: inserted unsynced, pruned once the
// upload is confirmed.
type LocalRecord struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Synced    bool            `json:"synced"`
}
