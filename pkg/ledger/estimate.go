package ledger

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator produces the fast token-count guesses used for provisional
// usage rows. Counts only need to be in the right ballpark; exact numbers
// replace them at finalize time.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	log  *slog.Logger
}

// NewEstimator creates an estimator. The encoding is loaded lazily on first
// use so construction never blocks on BPE data.
func NewEstimator() *Estimator {
	return &Estimator{log: slog.With("component", "token_estimator")}
}

// Count estimates the token count of text. Uses cl100k_base when the
// encoding is available, otherwise the classic len/4 approximation.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			e.log.Warn("Token encoding unavailable, falling back to character estimate", "error", err)
			return
		}
		e.enc = enc
	})
	if e.enc == nil {
		return len(text) / 4
	}
	return len(e.enc.Encode(text, nil, nil))
}
