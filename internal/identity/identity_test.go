package identity

import (
	"fmt"
	"strings"
	"testing"
)

func TestResolveDeterministic(t *testing.T) {
	a, err := Resolve("db.example.com", "alice", "orders")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	b, err := Resolve("db.example.com", "alice", "orders")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if a != b {
		t.Errorf("same triple resolved differently: %s vs %s", a, b)
	}
}

func TestResolveFormat(t *testing.T) {
	id, err := Resolve("localhost", "root", "mydb")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !strings.HasPrefix(id, "thread_") {
		t.Errorf("expected thread_ prefix, got %s", id)
	}
	if len(id) != len("thread_")+32 {
		t.Errorf("expected 32 hex chars after prefix, got %d in %s", len(id)-len("thread_"), id)
	}
}

func TestResolveDistinctTriples(t *testing.T) {
	seen := make(map[string]string)
	for h := 0; h < 10; h++ {
		for u := 0; u < 10; u++ {
			for d := 0; d < 10; d++ {
				host := fmt.Sprintf("host%d", h)
				user := fmt.Sprintf("user%d", u)
				db := fmt.Sprintf("db%d", d)
				id, err := Resolve(host, user, db)
				if err != nil {
					t.Fatalf("Resolve(%s,%s,%s) failed: %v", host, user, db, err)
				}
				key := host + "/" + user + "/" + db
				if prev, ok := seen[id]; ok {
					t.Fatalf("collision: %s and %s both resolve to %s", prev, key, id)
				}
				seen[id] = key
			}
		}
	}
}

func TestResolveRejectsEmptyDatabase(t *testing.T) {
	if _, err := Resolve("host", "user", ""); err == nil {
		t.Error("expected error for empty database name")
	}
}
