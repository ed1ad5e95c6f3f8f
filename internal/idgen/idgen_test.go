package idgen

import (
	"strings"
	"testing"
)

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if len(id) != 36 {
			t.Fatalf("unexpected id length: %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("txn_")
	if !strings.HasPrefix(id, "txn_") {
		t.Errorf("expected txn_ prefix, got %s", id)
	}
	if len(id) != len("txn_")+24 {
		t.Errorf("unexpected length: %s", id)
	}
	if id == WithPrefix("txn_") {
		t.Error("two generated ids should differ")
	}
}
