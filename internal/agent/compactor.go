package agent

import (
	"context"
	"fmt"

	"dbma/internal/llm"
	. "dbma/internal/logging"
	"dbma/internal/store"
)

// Compactor maintains the rolling summary for each thread. It never deletes
// message log rows; the summary is a parallel compressed view.
type Compactor struct {
	store      store.Store
	provider   llm.Provider
	windowSize int // unsummarized message count that triggers compaction
	keepTail   int // most recent messages always left verbatim
}

// NewCompactor creates a compactor with the given thresholds.
func NewCompactor(st store.Store, provider llm.Provider, windowSize, keepTail int) *Compactor {
	if windowSize <= 0 {
		windowSize = 40
	}
	if keepTail <= 0 {
		keepTail = 40
	}
	return &Compactor{store: st, provider: provider, windowSize: windowSize, keepTail: keepTail}
}

// MaybeCompact folds older messages into the summary when the unsummarized
// span exceeds the window size. Returns whether a compaction ran.
//
// The summary row is written only after the generation call succeeds, so a
// failed attempt leaves stored state untouched and a later call retries from
// the same boundary.
func (c *Compactor) MaybeCompact(ctx context.Context, threadID string) (bool, error) {
	var priorSummary string
	var upTo int64
	var priorFolded int

	sum, err := c.store.GetSummary(ctx, threadID)
	if err != nil {
		return false, err
	}
	if sum != nil {
		priorSummary = sum.SummaryText
		upTo = sum.SummarizedUpToSeq
		priorFolded = sum.MessageCountSummarized
	}

	unsummarized, err := c.store.MessagesAfter(ctx, threadID, upTo)
	if err != nil {
		return false, err
	}
	if len(unsummarized) <= c.windowSize {
		return false, nil
	}

	latest := unsummarized[len(unsummarized)-1].SequenceNo
	cutoff := latest - int64(c.keepTail)
	if cutoff <= upTo {
		return false, nil
	}

	// Fold messages in (upTo, cutoff]; the keepTail newest stay verbatim.
	var fold []store.Message
	for _, msg := range unsummarized {
		if msg.SequenceNo <= cutoff {
			fold = append(fold, msg)
		}
	}
	if len(fold) == 0 {
		return false, nil
	}

	prompt := buildSummarizerPrompt(priorSummary, renderTranscript(fold))
	summaryText, err := c.provider.Generate(ctx, prompt, summarizerSystemPrompt)
	if err != nil {
		return false, fmt.Errorf("summary generation failed: %w", err)
	}
	summaryText = CleanResponse(summaryText)
	if summaryText == "" {
		return false, fmt.Errorf("summary generation returned empty text")
	}

	err = c.store.SaveSummary(ctx, &store.Summary{
		ThreadID:               threadID,
		SummaryText:            summaryText,
		SummarizedUpToSeq:      cutoff,
		MessageCountSummarized: priorFolded + len(fold),
	})
	if err != nil {
		return false, err
	}

	L_info("compactor: folded %d messages for %s, summarized through seq %d",
		len(fold), threadID, cutoff)
	return true, nil
}
