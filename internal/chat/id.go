package chat

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewSessionID returns a chronologically sortable id of the form
// YYYYMMDD-HHMMSS-xxxxxx.
func NewSessionID() string {
	random := make([]byte, 3)
	rand.Read(random)
	return fmt.Sprintf("%s-%s", time.Now().Format("20060102-150405"), hex.EncodeToString(random))
}

// ParseIDTime extracts the creation time from a session id. It returns
// the zero time for ids not produced by NewSessionID.
func ParseIDTime(id string) time.Time {
	if len(id) < 15 {
		return time.Time{}
	}
	t, _ := time.ParseInLocation("20060102-150405", id[:15], time.Local)
	return t
}

// ShortID abbreviates a session id for display: "20240115-143052-a1b2c3" -> "240115-1430".
func ShortID(id string) string {
	if len(id) < 15 {
		return id
	}
	return id[2:8] + "-" + id[9:13]
}

// NewMessageID mints an id for a message or attachment.
func NewMessageID() string {
	return uuid.NewString()
}
