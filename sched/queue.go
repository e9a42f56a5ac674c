// Implements the RequestQueue, which holds every outstanding request.
// Requests are enqueued on arrival and removed when they reach done.

package sched

import (
	"fmt"
	"strings"
)

// RequestQueue holds waiting and partially served requests in arrival order.
// Selection is not FIFO: SelectNext picks the request whose client has the
// lowest virtual counter.
type RequestQueue struct {
	queue []*Request          // arrival order
	byID  map[string]*Request // request id -> request
}

// NewRequestQueue creates an empty queue.
func NewRequestQueue() *RequestQueue {
	return &RequestQueue{byID: make(map[string]*Request)}
}

// Add appends a request. Panics on nil or duplicate ids.
func (q *RequestQueue) Add(req *Request) {
	if req == nil {
		panic("Add: req must not be nil")
	}
	if _, ok := q.byID[req.ID]; ok {
		panic(fmt.Sprintf("Add: request %s already queued", req.ID))
	}
	q.queue = append(q.queue, req)
	q.byID[req.ID] = req
}

// Get returns the queued request with the given id.
func (q *RequestQueue) Get(id string) (*Request, bool) {
	req, ok := q.byID[id]
	return req, ok
}

// Remove deletes the request with the given id, preserving the order of the rest.
// Returns the removed request, or nil if the id is not queued.
func (q *RequestQueue) Remove(id string) *Request {
	req, ok := q.byID[id]
	if !ok {
		return nil
	}
	delete(q.byID, id)
	for i, r := range q.queue {
		if r == req {
			q.queue = append(q.queue[:i], q.queue[i+1:]...)
			break
		}
	}
	return req
}

// Len returns the number of requests in the queue.
func (q *RequestQueue) Len() int {
	return len(q.queue)
}

// Items returns the queue contents in arrival order.
// The returned slice is the queue's internal storage: callers MUST NOT
// append to or reslice it.
func (q *RequestQueue) Items() []*Request {
	return q.queue
}

// CountPhase returns the number of queued requests in the given phase.
func (q *RequestQueue) CountPhase(phase Phase) int {
	n := 0
	for _, r := range q.queue {
		if r.Phase == phase {
			n++
		}
	}
	return n
}

// Decoding returns the decoding requests in arrival order.
func (q *RequestQueue) Decoding() []*Request {
	var out []*Request
	for _, r := range q.queue {
		if r.Phase == PhaseDecoding {
			out = append(out, r)
		}
	}
	return out
}

// SelectNext returns the eligible request with the lowest counter.
// Ties are broken by earliest ArrivalTick, then by ID, so selection is
// deterministic. Returns nil when no request is eligible.
func (q *RequestQueue) SelectNext(eligible func(*Request) bool, counter func(*Request) float64) *Request {
	var best *Request
	var bestCounter float64
	for _, r := range q.queue {
		if !eligible(r) {
			continue
		}
		c := counter(r)
		if best == nil || lessByCounter(c, r, bestCounter, best) {
			best, bestCounter = r, c
		}
	}
	return best
}

// lessByCounter orders (counter, arrival tick, id) ascending.
func lessByCounter(ci float64, ri *Request, cj float64, rj *Request) bool {
	if ci != cj {
		return ci < cj
	}
	if ri.ArrivalTick != rj.ArrivalTick {
		return ri.ArrivalTick < rj.ArrivalTick
	}
	return ri.ID < rj.ID
}

func (q *RequestQueue) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, val := range q.queue {
		sb.WriteString(fmt.Sprint(val))
		if i < len(q.queue)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}
