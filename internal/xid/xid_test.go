package xid

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestNewPrefix(t *testing.T) {
	id := New("audit")
	if !strings.HasPrefix(id, "audit-") {
		t.Fatalf("expected audit- prefix, got %s", id)
	}
	if New("audit") == id {
		t.Fatalf("expected distinct ids")
	}
}

func TestVoucherNumberFormat(t *testing.T) {
	at := time.Date(2024, 3, 9, 7, 5, 4, 0, time.UTC)
	number := VoucherNumber(at)

	if !regexp.MustCompile(`^INV-20240309-070504-[0-9a-f]{6}$`).MatchString(number) {
		t.Fatalf("unexpected voucher number %s", number)
	}
}
