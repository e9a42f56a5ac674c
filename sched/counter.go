package sched

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// ClientAccount is one client's entry in the fairness ledger.
type ClientAccount struct {
	ClientID        string
	Weight          float64 // > 0; charges are divided by it
	Counter         float64 // virtual token counter, relative to the ledger's rebase offset
	LastServiceTick int64   // last tick the client was charged (-1 if never)
	Outstanding     int     // non-done requests owned by the client
}

// CounterTracker is the Virtual Token Counter ledger. It owns every client's
// counter, applies the lift rule on reactivation, charges completed work, and
// rebases counters when they grow large.
//
// Accounts live in an indexed table (slice plus id -> index map). An account
// is never removed, so a returning client keeps its counter.
//
// Thread-safety: NOT thread-safe. Owned by the Scheduler goroutine.
type CounterTracker struct {
	cost            CostModel
	chargeOnArrival bool

	weights       map[string]float64
	defaultWeight float64

	accounts []ClientAccount
	index    map[string]int

	minActive float64 // min counter among clients with Outstanding > 0
	hasActive bool
	base      float64 // total amount subtracted by Rebase
}

// NewCounterTracker creates a ledger. With chargeOnArrival the whole prefill
// cost is charged when a request arrives (basic VTC); otherwise prefill is
// charged chunk by chunk on batch completion.
func NewCounterTracker(cost CostModel, fairness FairnessConfig, chargeOnArrival bool) (*CounterTracker, error) {
	defaultWeight := fairness.DefaultWeight
	if defaultWeight == 0 {
		defaultWeight = 1.0
	}
	if defaultWeight < 0 || math.IsNaN(defaultWeight) || math.IsInf(defaultWeight, 0) {
		return nil, fmt.Errorf("%w: default weight %v", ErrInvalidWeight, defaultWeight)
	}
	weights := make(map[string]float64, len(fairness.Weights))
	for client, w := range fairness.Weights {
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: client %q has weight %v", ErrInvalidWeight, client, w)
		}
		weights[client] = w
	}
	return &CounterTracker{
		cost:            cost,
		chargeOnArrival: chargeOnArrival,
		weights:         weights,
		defaultWeight:   defaultWeight,
		index:           make(map[string]int),
	}, nil
}

// accountIndex returns the table index for clientID, creating the account on first use.
func (t *CounterTracker) accountIndex(clientID string) int {
	if i, ok := t.index[clientID]; ok {
		return i
	}
	w, ok := t.weights[clientID]
	if !ok {
		w = t.defaultWeight
	}
	t.accounts = append(t.accounts, ClientAccount{
		ClientID:        clientID,
		Weight:          w,
		LastServiceTick: -1,
	})
	i := len(t.accounts) - 1
	t.index[clientID] = i
	return i
}

// Weight returns the configured weight for clientID (default weight if unconfigured).
func (t *CounterTracker) Weight(clientID string) float64 {
	if i, ok := t.index[clientID]; ok {
		return t.accounts[i].Weight
	}
	if w, ok := t.weights[clientID]; ok {
		return w
	}
	return t.defaultWeight
}

// Counter returns the client's current (rebased) counter; 0 for unknown clients.
func (t *CounterTracker) Counter(clientID string) float64 {
	if i, ok := t.index[clientID]; ok {
		return t.accounts[i].Counter
	}
	return 0
}

// AbsoluteCounter returns the counter with all rebasing undone.
func (t *CounterTracker) AbsoluteCounter(clientID string) float64 {
	return t.Counter(clientID) + t.base
}

// Account returns a copy of the client's account.
func (t *CounterTracker) Account(clientID string) (ClientAccount, bool) {
	i, ok := t.index[clientID]
	if !ok {
		return ClientAccount{}, false
	}
	return t.accounts[i], true
}

// Accounts returns a copy of all accounts in first-seen order.
func (t *CounterTracker) Accounts() []ClientAccount {
	out := make([]ClientAccount, len(t.accounts))
	copy(out, t.accounts)
	return out
}

// RebaseOffset returns the total amount subtracted from counters by Rebase.
func (t *CounterTracker) RebaseOffset() float64 {
	return t.base
}

// GlobalMinActive returns the minimum counter among clients with outstanding
// requests. ok is false when no client is active.
func (t *CounterTracker) GlobalMinActive() (min float64, ok bool) {
	return t.minActive, t.hasActive
}

// OnArrival registers a new outstanding request. A client with no outstanding
// work is first lifted to the global minimum active counter. In basic mode the
// request's whole prefill is then charged. Returns the counter increase caused
// by the lift.
func (t *CounterTracker) OnArrival(req *Request) float64 {
	i := t.accountIndex(req.ClientID)
	acct := &t.accounts[i]

	lift := 0.0
	if acct.Outstanding == 0 && t.hasActive && acct.Counter < t.minActive {
		lift = t.minActive - acct.Counter
		acct.Counter = t.minActive
	}
	acct.Outstanding++

	if t.chargeOnArrival {
		acct.Counter += t.cost.PrefillTokenCost(req.PromptTokens) / acct.Weight
	}
	t.recomputeMin()

	if lift > 0 {
		logrus.Debugf("[tick %07d] counter lift: client %s +%.3f -> %.3f", req.ArrivalTick, req.ClientID, lift, acct.Counter)
	}
	return lift
}

// OnBatchCompletion charges every client for the work its requests did in
// batch, as reported by the engine. Costs are summed per client first and
// divided by the client's weight once. Returns the weighted charge per client.
//
// The report must already be validated against the batch.
func (t *CounterTracker) OnBatchCompletion(batch *Batch, report *CompletionReport) map[string]float64 {
	byID := make(map[string]CompletionEntry, len(report.Entries))
	decoding, active := 0, 0
	for _, e := range report.Entries {
		byID[e.RequestID] = e
		if e.DecodeTokens > 0 {
			decoding++
		}
		if e.DecodeTokens > 0 || e.PrefillTokens > 0 {
			active++
		}
	}
	decodeCost := t.cost.DecodeTokenCost(t.cost.DecodeConcurrency(decoding, active))

	raw := make(map[string]float64)
	var order []string
	for _, entry := range batch.Entries {
		done, ok := byID[entry.Request.ID]
		if !ok {
			continue
		}
		cost := float64(done.DecodeTokens) * decodeCost
		if !t.chargeOnArrival {
			cost += t.cost.PrefillTokenCost(done.PrefillTokens)
		}
		client := entry.Request.ClientID
		if _, seen := raw[client]; !seen {
			order = append(order, client)
		}
		raw[client] += cost
	}

	charged := make(map[string]float64, len(raw))
	for _, client := range order {
		acct := &t.accounts[t.accountIndex(client)]
		delta := raw[client] / acct.Weight
		acct.Counter += delta
		acct.LastServiceTick = batch.Tick
		charged[client] = delta
	}
	t.recomputeMin()
	return charged
}

// OnRequestDone releases a request's hold on its client's active status.
// Used for finished, aborted, and failed requests alike; nothing is charged or refunded.
func (t *CounterTracker) OnRequestDone(req *Request) {
	i, ok := t.index[req.ClientID]
	if !ok || t.accounts[i].Outstanding == 0 {
		panic(fmt.Sprintf("OnRequestDone: client %s has no outstanding requests (request %s)", req.ClientID, req.ID))
	}
	t.accounts[i].Outstanding--
	t.recomputeMin()
}

// Rebase subtracts the global minimum active counter from every account.
// The same offset is applied to all accounts, so relative order (including
// ties) is unchanged. Returns the subtracted offset (0 when nothing is active).
func (t *CounterTracker) Rebase() float64 {
	if !t.hasActive || t.minActive == 0 {
		return 0
	}
	offset := t.minActive
	for i := range t.accounts {
		t.accounts[i].Counter -= offset
	}
	t.base += offset
	t.recomputeMin()
	return offset
}

func (t *CounterTracker) recomputeMin() {
	t.hasActive = false
	t.minActive = 0
	for i := range t.accounts {
		acct := &t.accounts[i]
		if acct.Outstanding == 0 {
			continue
		}
		if !t.hasActive || acct.Counter < t.minActive {
			t.minActive = acct.Counter
			t.hasActive = true
		}
	}
}
