/*
idempotency.go - Deduplication gate for redelivered events

PURPOSE:
  The chat transport retries webhook deliveries; the same event can
  arrive two or more times. This gate ensures each idempotency key is
  applied exactly once: the first admit wins, every other delivery
  replays the first delivery's computed result instead of re-running
  the applier.

ATOMICITY:
  Admit-and-record is a single critical section. Two concurrent admits
  for the same key yield exactly one Fresh; the rest see Duplicate.

LIFECYCLE PER KEY:
  Admit (Fresh) -> Commit(result)  terminal outcome (committed tx OR
                                   business rejection): later admits
                                   replay the stored result
  Admit (Fresh) -> Forget          failure before a terminal outcome
                                   (persistence outage): the key is
                                   released so a redelivery can retry

RETENTION:
  Keys are retained for the process lifetime. That comfortably covers
  the upstream's redelivery window at this catalog's scale; a bounded
  window would be a deployment policy, not a correctness requirement.

SEE ALSO:
  - dispatcher.go: The only caller
*/
package bot

import (
	"sync"

	"github.com/stockline/inventory-bot/ledger"
)

// Result is the terminal outcome recorded for a key: the committed
// transaction (nil for rejections) plus the reply that was sent.
type Result struct {
	Tx    *ledger.Transaction
	Reply string
}

// Admission is the gate's verdict for one delivery.
type Admission struct {
	Fresh bool
	// Prior is the first delivery's recorded result. Nil when Fresh, and
	// also nil for a duplicate whose first delivery is still in flight.
	Prior *Result
}

// Gate deduplicates commands by idempotency key.
type Gate struct {
	mu      sync.Mutex
	entries map[string]*Result // nil value = admitted, still in flight
}

func NewGate() *Gate {
	return &Gate{entries: make(map[string]*Result)}
}

// Admit reserves the key atomically. Exactly one caller per key ever
// sees Fresh.
func (g *Gate) Admit(key string) Admission {
	g.mu.Lock()
	defer g.mu.Unlock()

	if result, ok := g.entries[key]; ok {
		return Admission{Fresh: false, Prior: result}
	}
	g.entries[key] = nil
	return Admission{Fresh: true}
}

// Commit records the terminal result for a key admitted as Fresh.
func (g *Gate) Commit(key string, result Result) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := result
	g.entries[key] = &r
}

// Forget releases a key whose application failed before any terminal
// outcome, so a transport redelivery can retry cleanly.
func (g *Gate) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
}

// Size reports how many keys are retained (monitoring/tests).
func (g *Gate) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
