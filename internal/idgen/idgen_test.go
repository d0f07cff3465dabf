package idgen

import (
	"regexp"
	"strings"
	"testing"
)

func TestNewOrderID_Format(t *testing.T) {
	re := regexp.MustCompile(`^MSH-\d+-\d+$`)

	id := NewOrderID()
	if !re.MatchString(id) {
		t.Fatalf("order id %q does not match MSH-<digits>-<digits>", id)
	}
}

func TestNewOrderID_NoImmediateCollisions(t *testing.T) {
	seen := make(map[string]struct{})

	for i := 0; i < 1000; i++ {
		id := NewOrderID()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate order id generated: %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewInstituteID_Format(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := NewInstituteID()
		if len(id) != 12 {
			t.Fatalf("institute id length = %d, want 12", len(id))
		}
		for _, ch := range id {
			if !strings.ContainsRune(instituteIDChars, ch) {
				t.Fatalf("institute id %q contains unexpected character %q", id, ch)
			}
		}
	}
}
