// Package tokens provides token estimation using tiktoken.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	. "dbma/internal/logging"
)

// DefaultEncoding is cl100k_base, a reasonable approximation across the
// supported providers.
const DefaultEncoding = "cl100k_base"

// Estimator counts tokens for accounting on stored messages.
type Estimator struct {
	encoding *tiktoken.Tiktoken
	mu       sync.RWMutex
}

var (
	global     *Estimator
	globalOnce sync.Once
)

// Get returns the global estimator singleton.
func Get() *Estimator {
	globalOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(DefaultEncoding)
		if err != nil {
			L_warn("tokens: tiktoken unavailable, using char estimate", "error", err)
			global = &Estimator{}
			return
		}
		global = &Estimator{encoding: enc}
	})
	return global
}

// Count returns the token count for a string.
// Falls back to chars/4 when the encoding is unavailable.
func (e *Estimator) Count(text string) int {
	if e == nil || e.encoding == nil {
		return len(text) / 4
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.encoding.Encode(text, nil, nil))
}

// Estimate is a convenience wrapper over the global estimator.
func Estimate(text string) int {
	return Get().Count(text)
}
