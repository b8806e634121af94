package queue

import (
	"errors"
	"testing"
)

func TestTruncateError(t *testing.T) {
	t.Parallel()

	if got := truncateError(nil, 10); got != "" {
		t.Fatalf("nil error: want empty, got %q", got)
	}

	err := errors.New("directory lookup failed: connection refused")
	if got := truncateError(err, 1024); got != err.Error() {
		t.Fatalf("short error should be untouched, got %q", got)
	}

	if got := truncateError(err, 9); got != "directory" {
		t.Fatalf("want %q got %q", "directory", got)
	}
}

func TestTruncateStringUTF8Boundary(t *testing.T) {
	t.Parallel()

	// 3-byte runes; cutting mid-rune must back off to a valid boundary.
	s := "データ取り込み"
	got := truncateString(s, 4)
	if got != "デ" {
		t.Fatalf("want %q got %q", "デ", got)
	}

	if got := truncateString(s, 0); got != "" {
		t.Fatalf("zero budget: want empty, got %q", got)
	}
}
