package agent

import (
	"context"
	"testing"
)

func TestContextBuilderEmptyThread(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	threadID, _ := st.EnsureSession(ctx, "localhost", "root", "shop")

	tc, err := NewContextBuilder(st, 40).Build(ctx, threadID)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if tc.Summary != "" || len(tc.Recent) != 0 {
		t.Error("empty thread produced non-empty context")
	}
}

func TestContextBuilderNoOverlapWithSummary(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	threadID, _ := st.EnsureSession(ctx, "localhost", "root", "shop")
	seedMessages(t, st, threadID, 30)

	compactor := NewCompactor(st, &fakeProvider{summary: "digest"}, 20, 10)
	if _, err := compactor.MaybeCompact(ctx, threadID); err != nil {
		t.Fatalf("compaction failed: %v", err)
	}

	tc, err := NewContextBuilder(st, 40).Build(ctx, threadID)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if tc.Summary != "digest" {
		t.Errorf("summary not included: %q", tc.Summary)
	}

	// Everything after the summarized boundary, nothing at or before it.
	if len(tc.Recent) != 10 {
		t.Fatalf("expected the 10 unsummarized messages, got %d", len(tc.Recent))
	}
	for _, msg := range tc.Recent {
		if msg.SequenceNo <= 20 {
			t.Errorf("message %d already folded into the summary", msg.SequenceNo)
		}
	}
	for want := int64(21); want <= 30; want++ {
		found := false
		for _, msg := range tc.Recent {
			if msg.SequenceNo == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("message %d newer than the boundary was omitted", want)
		}
	}
}

func TestContextBuilderWindowCap(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	threadID, _ := st.EnsureSession(ctx, "localhost", "root", "shop")
	seedMessages(t, st, threadID, 15)

	tc, err := NewContextBuilder(st, 5).Build(ctx, threadID)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(tc.Recent) != 5 {
		t.Fatalf("window cap not applied: %d messages", len(tc.Recent))
	}
	if tc.Recent[0].SequenceNo != 11 || tc.Recent[4].SequenceNo != 15 {
		t.Error("window did not keep the newest messages in order")
	}
}
