package xid

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// OrderNumber builds a human-readable order number such as
// ORD-20260901-4821. The 4-digit suffix is random, so a collision is
// possible; callers rely on the store's unique constraint to catch it.
func OrderNumber(prefix string, at time.Time) string {
	buf := make([]byte, 2)
	suffix := int(time.Now().UnixNano() % 9000)
	if _, err := rand.Read(buf); err == nil {
		suffix = int(binary.BigEndian.Uint16(buf)) % 9000
	}
	return fmt.Sprintf("%s-%s-%04d", prefix, at.UTC().Format("20060102"), 1000+suffix)
}
