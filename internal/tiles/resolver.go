package tiles

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/errors"
)

// ErrSuperseded ends a wait whose round was replaced by a newer one.
var ErrSuperseded = stderrors.New("superseded by a newer round")

// Slot holds what one upstream tile published in the current round.
type Slot struct {
	TileID        int
	Filled        bool
	CorpusName    string
	SubcorpusName string
	ConcIDs       []string
	Subqueries    []action.SubqueryPayload
}

// Resolver tracks the upstream tiles a model waits for. Slots are keyed by
// tile id and read back in configured order, so the order in which upstream
// results arrive does not matter. It is bookkeeping private to the model and
// never part of a rendered state.
type Resolver struct {
	upstream []int

	mu     sync.Mutex
	round  uint64
	slots  map[int]*Slot
	failed error
	stop   chan struct{}
}

// NewResolver creates a resolver waiting for upstream (duplicates dropped).
func NewResolver(upstream ...int) *Resolver {
	seen := make(map[int]bool, len(upstream))
	ids := make([]int, 0, len(upstream))
	for _, id := range upstream {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	r := &Resolver{upstream: ids}
	r.Reset(0)
	return r
}

// Upstream returns the watched tile ids in configured order.
func (r *Resolver) Upstream() []int {
	return append([]int(nil), r.upstream...)
}

// Watches reports whether tileID is an upstream tile.
func (r *Resolver) Watches(tileID int) bool {
	for _, id := range r.upstream {
		if id == tileID {
			return true
		}
	}
	return false
}

// Reset empties every slot for a new round and ends waits of the previous
// one.
func (r *Resolver) Reset(round uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		close(r.stop)
	}
	r.round = round
	r.failed = nil
	r.stop = make(chan struct{})
	r.slots = make(map[int]*Slot, len(r.upstream))
	for _, id := range r.upstream {
		r.slots[id] = &Slot{TileID: id}
	}
}

// Round returns the round the slots belong to.
func (r *Resolver) Round() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.round
}

func (r *Resolver) complete() bool {
	if r.failed != nil {
		return false
	}
	for _, s := range r.slots {
		if !s.Filled {
			return false
		}
	}
	return true
}

// Complete reports whether every upstream tile published its data.
func (r *Resolver) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.complete()
}

// Err returns the error which ended the current round's wait.
func (r *Resolver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Accept stores the upstream result a carries. Actions of other rounds and
// of unwatched tiles are ignored, as is everything after a failure. A failed
// upstream ends the wait with a DependencyFailed error. A slot keeps the
// first result it got, later ones only report completeness.
func (r *Resolver) Accept(a action.Action) (bool, error) {
	p, ok := upstreamResult(a)
	if !ok {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[p.TileID]
	if !ok || p.Round != r.round || r.failed != nil {
		return false, nil
	}
	if slot.Filled {
		// Record may have stored it already during the reduce phase
		return r.complete(), nil
	}
	if a.Error != nil {
		r.failed = errors.New(errors.DependencyFailed, errors.MsgMissingDependency, a.Error)
		return false, r.failed
	}
	fill(slot, p)
	return r.complete(), nil
}

// Record stores a successful upstream result of the current round even
// when the wait already ended. A retry then finds the data an upstream
// tile published after it recovered. It reports whether a slot was filled.
func (r *Resolver) Record(a action.Action) bool {
	p, ok := upstreamResult(a)
	if !ok || a.Error != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[p.TileID]
	if !ok || p.Round != r.round || slot.Filled {
		return false
	}
	fill(slot, p)
	return true
}

// Rearm clears the failure of the current round while keeping the filled
// slots. It returns the upstream tiles still to wait for, nil when all
// data is there.
func (r *Resolver) Rearm() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = nil
	var pending []int
	for _, id := range r.upstream {
		if !r.slots[id].Filled {
			pending = append(pending, id)
		}
	}
	return pending
}

func upstreamResult(a action.Action) (action.TileLoaded, bool) {
	if a.Name != action.TileDataLoaded {
		return action.TileLoaded{}, false
	}
	p, ok := a.Payload.(action.TileLoaded)
	return p, ok
}

func fill(slot *Slot, p action.TileLoaded) {
	switch body := p.Body.(type) {
	case action.ConcLoaded:
		slot.CorpusName = body.CorpusName
		slot.SubcorpusName = body.SubcorpusName
		slot.ConcIDs = append([]string(nil), body.ConcIDs...)
		slot.Subqueries = append([]action.SubqueryPayload(nil), body.Subqueries...)
	case action.SubqueryList:
		slot.Subqueries = append([]action.SubqueryPayload(nil), body.Items...)
	}
	slot.Filled = true
}

// Replace swaps the sub-queries of an already filled slot, as announced by
// SubqChanged. It reports whether the slot changed.
func (r *Resolver) Replace(p action.SubqueryPayload) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[p.TileID]
	if !ok || !slot.Filled {
		return false
	}
	for i, item := range slot.Subqueries {
		if item.QueryID == p.QueryID {
			slot.Subqueries[i] = p
			return true
		}
	}
	slot.Subqueries = append(slot.Subqueries, p)
	sort.SliceStable(slot.Subqueries, func(i, j int) bool {
		return slot.Subqueries[i].QueryID < slot.Subqueries[j].QueryID
	})
	return true
}

// Pending returns the upstream tiles still to report, in configured order.
func (r *Resolver) Pending() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ans []int
	for _, id := range r.upstream {
		if !r.slots[id].Filled {
			ans = append(ans, id)
		}
	}
	return ans
}

// Slots returns copies of all slots in configured order.
func (r *Resolver) Slots() []Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	ans := make([]Slot, len(r.upstream))
	for i, id := range r.upstream {
		s := *r.slots[id]
		s.ConcIDs = append([]string(nil), s.ConcIDs...)
		s.Subqueries = append([]action.SubqueryPayload(nil), s.Subqueries...)
		ans[i] = s
	}
	return ans
}

// ConcSource returns the first slot carrying concordance ids.
func (r *Resolver) ConcSource() (Slot, bool) {
	for _, s := range r.Slots() {
		if len(s.ConcIDs) > 0 {
			return s, true
		}
	}
	return Slot{}, false
}

// Subqueries returns the sub-queries of all slots in configured order.
func (r *Resolver) Subqueries() []action.SubqueryPayload {
	var ans []action.SubqueryPayload
	for _, s := range r.Slots() {
		ans = append(ans, s.Subqueries...)
	}
	return ans
}

// SubqueriesFrom returns the sub-queries published by the given tiles, in
// configured order.
func (r *Resolver) SubqueriesFrom(tileIDs ...int) []action.SubqueryPayload {
	var ans []action.SubqueryPayload
	for _, s := range r.Slots() {
		for _, id := range tileIDs {
			if s.TileID == id {
				ans = append(ans, s.Subqueries...)
				break
			}
		}
	}
	return ans
}

// Watcher is a wait for the upstream results of one round.
type Watcher struct {
	r     *Resolver
	sub   *action.Subscription
	round uint64
	stop  chan struct{}
}

// Watch subscribes to the upstream results of the current round. Call it
// from an effect so no result dispatched afterwards can be missed.
func (r *Resolver) Watch(d action.Dispatcher) *Watcher {
	r.mu.Lock()
	round, stop := r.round, r.stop
	r.mu.Unlock()
	return &Watcher{
		r:     r,
		sub:   d.Subscribe(action.ForTiles(round, r.upstream...)),
		round: round,
		stop:  stop,
	}
}

// Wait feeds upstream results into the resolver until every slot is
// filled. It fails with DependencyTimeout when timeout elapses first
// (reported once, later results of the round are ignored), with
// DependencyFailed when an upstream tile failed and with ErrSuperseded when
// Reset starts a newer round. The subscription is closed on return.
func (w *Watcher) Wait(ctx context.Context, timeout time.Duration) error {
	defer w.sub.Close()

	select {
	case <-w.stop:
		return ErrSuperseded
	default:
	}
	if w.r.Complete() {
		return nil
	}

	baseCtx, cancelBase := context.WithCancel(ctx)
	defer cancelBase()
	waitCtx := baseCtx
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		waitCtx, cancelTimeout = context.WithTimeout(baseCtx, timeout)
		defer cancelTimeout()
	}
	go func() {
		select {
		case <-w.stop:
			cancelBase()
		case <-waitCtx.Done():
		}
	}()

	for {
		a, err := w.sub.Next(waitCtx)
		if err != nil {
			return w.end(ctx, err, timeout)
		}
		complete, err := w.r.Accept(a)
		if err != nil {
			return err
		}
		if complete {
			return nil
		}
	}
}

func (w *Watcher) end(ctx context.Context, err error, timeout time.Duration) error {
	select {
	case <-w.stop:
		return ErrSuperseded
	default:
	}
	if ctx.Err() == nil && stderrors.Is(err, context.DeadlineExceeded) {
		err = errors.Newf(errors.DependencyTimeout, "upstream tiles %v did not respond within %s", w.r.Pending(), timeout)
	}
	w.r.mu.Lock()
	if w.r.round == w.round && w.r.failed == nil {
		w.r.failed = err
	}
	w.r.mu.Unlock()
	return err
}
