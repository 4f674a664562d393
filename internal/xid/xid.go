package xid

import (
	"crypto/rand"
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

// VoucherNumber formats INV-YYYYMMDD-HHMMSS-xxxxxx for a sale at t. The
// random suffix keeps numbers distinct within one batch.
func VoucherNumber(t time.Time) string {
	buf := make([]byte, 3)
	suffix := ""
	if _, err := rand.Read(buf); err != nil {
		suffix = fmt.Sprintf("%06d", t.Nanosecond()/1000)
	} else {
		suffix = hex.EncodeToString(buf)
	}
	return fmt.Sprintf("INV-%s-%s", t.UTC().Format("20060102-150405"), suffix)
}
