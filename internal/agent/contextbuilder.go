package agent

import (
	"context"
	"fmt"
	"strings"

	. "dbma/internal/logging"
	"dbma/internal/store"
)

// TurnContext is the bounded prompt context for one turn: the rolling
// summary plus the verbatim tail of the message log.
type TurnContext struct {
	Summary string
	Recent  []store.Message
}

// ContextBuilder assembles TurnContexts from the store.
type ContextBuilder struct {
	store      store.Store
	windowSize int
}

// NewContextBuilder creates a builder with the given verbatim window size.
func NewContextBuilder(st store.Store, windowSize int) *ContextBuilder {
	if windowSize <= 0 {
		windowSize = 40
	}
	return &ContextBuilder{store: st, windowSize: windowSize}
}

// Build reads the summary and the messages strictly after the summarized
// boundary. The tail is capped at the window size, newest kept; the
// compactor keeps the unsummarized span near the window size so the cap
// rarely bites. Deterministic given stable storage contents.
func (b *ContextBuilder) Build(ctx context.Context, threadID string) (*TurnContext, error) {
	tc := &TurnContext{}

	var upTo int64
	sum, err := b.store.GetSummary(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("building context: %w", err)
	}
	if sum != nil {
		tc.Summary = sum.SummaryText
		upTo = sum.SummarizedUpToSeq
	}

	recent, err := b.store.MessagesAfter(ctx, threadID, upTo)
	if err != nil {
		return nil, fmt.Errorf("building context: %w", err)
	}
	if len(recent) > b.windowSize {
		// Happens when compaction has been deferred for several turns,
		// typically because the summarizer was unreachable.
		L_warn("context: window cap dropped %d unsummarized messages for %s",
			len(recent)-b.windowSize, threadID)
		recent = recent[len(recent)-b.windowSize:]
	}
	tc.Recent = recent
	return tc, nil
}

// renderTranscript renders messages for inclusion in a prompt. Extracted SQL
// rides along on its own line so the model sees what was actually run.
func renderTranscript(messages []store.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(strings.ToUpper(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteByte('\n')
		if msg.SQLQuery != "" {
			fmt.Fprintf(&b, "[SQL: %s]\n", msg.SQLQuery)
		}
	}
	return b.String()
}
