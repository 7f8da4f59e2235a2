package resolver

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/config"
)

const (
	defaultLedgerSize = 256
	defaultLedgerTTL  = 10 * time.Minute
)

// escalation is what a verification failure leaves behind for the next call
// with the same page and target.
type escalation struct {
	// next is the index of the strategy the next call starts at.
	next int
	// rejected are fingerprints of candidates whose action failed verification.
	rejected []string
}

// ledger remembers escalations across calls. Entries expire so a page that
// is revisited much later starts from the first strategy again.
type ledger struct {
	entries *expirable.LRU[string, escalation]
}

func newLedger(cfg config.LedgerConfig) *ledger {
	size, ttl := cfg.Size, cfg.TTL
	if size <= 0 {
		size = defaultLedgerSize
	}
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	return &ledger{entries: expirable.NewLRU[string, escalation](size, nil, ttl)}
}

func ledgerKey(pageURL string, target schemas.TargetDescriptor) string {
	return pageURL + "|" + target.String()
}

// lookup returns the start index clamped to the strategy count and the
// rejected fingerprints. Running off the end restarts the cascade but keeps
// the rejections.
func (l *ledger) lookup(key string, strategies int) (int, []string) {
	e, ok := l.entries.Get(key)
	if !ok {
		return 0, nil
	}
	if e.next >= strategies || e.next < 0 {
		return 0, e.rejected
	}
	return e.next, e.rejected
}

func (l *ledger) record(key string, next int, rejected []string) {
	l.entries.Add(key, escalation{next: next, rejected: rejected})
}

func (l *ledger) forget(key string) {
	l.entries.Remove(key)
}
