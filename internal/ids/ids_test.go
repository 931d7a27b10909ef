package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewIsMonotonicAndParsable(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		if _, err := ulid.ParseStrict(next); err != nil {
			t.Fatalf("parse %s: %v", next, err)
		}
		prev = next
	}
}
