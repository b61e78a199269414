package duckdb

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/loglens/loglens/internal/lenserr"
)

// cursor is the decoded form of the opaque pagination token. MaxID pins the
// scan to the highest id that existed when the cursor was issued, so writes
// landing after issue never appear mid-scan (snapshot-at-issue semantics).
type cursor struct {
	V      int   `json:"v"`
	MaxID  int64 `json:"max_id"`
	LastTS int64 `json:"last_ts"` // unix nanos of last returned entry
	LastID int64 `json:"last_id"`
	Desc   bool  `json:"desc,omitempty"`
}

func (c cursor) lastTime() time.Time { return time.Unix(0, c.LastTS).UTC() }

func encodeCursor(c cursor) string {
	c.V = 1
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(token string) (cursor, error) {
	var c cursor
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return c, lenserr.Validation("cursor.decode", "malformed cursor")
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, lenserr.Validation("cursor.decode", "malformed cursor")
	}
	if c.V != 1 || c.MaxID <= 0 {
		return c, lenserr.Validation("cursor.decode", "unsupported cursor version")
	}
	return c, nil
}
