package tiles

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/logging"
	"github.com/czcorpus/wag-sub001/internal/sysmsg"
)

// Handler reacts to one action name. Reduce is pure and synchronous, Effect
// gets the reduced state and starts goroutines for any I/O. When Accept is
// set, Reduce and Effect run only for actions it accepts in the state
// preceding the action.
type Handler[S any] struct {
	Accept func(state S, a action.Action) bool
	Reduce func(state S, a action.Action) S
	Effect func(state S, a action.Action, d action.Dispatcher)
}

// Base implements action.Handler for a tile state S. Concrete models embed
// it and register their handlers with On.
type Base[S Stateful[S]] struct {
	env    Env
	logger *logging.Logger

	mu       sync.RWMutex
	state    S
	handlers map[action.Name]Handler[S]
	deps     *Resolver
}

// NewBase creates the base with the initial state. Mode toggles addressed
// to the tile are handled by the base.
func NewBase[S Stateful[S]](env Env, initial S) *Base[S] {
	if env.Logger == nil {
		env.Logger = logging.NewDiscard()
	}
	if env.WaitTimeout <= 0 {
		env.WaitTimeout = DefaultWaitTimeout
	}
	c := initial.Commons()
	c.TileID = env.TileID
	if c.Phase == "" {
		c.Phase = PhaseIdle
	}
	b := &Base[S]{
		env: env,
		logger: env.Logger.With(map[string]interface{}{
			"tile":   env.Name,
			"tileId": env.TileID,
		}),
		state:    initial.WithCommons(c),
		handlers: make(map[action.Name]Handler[S]),
	}
	b.On(action.EnableTileTweakMode, Handler[S]{Reduce: b.setTweakMode(true)})
	b.On(action.DisableTileTweakMode, Handler[S]{Reduce: b.setTweakMode(false)})
	b.On(action.EnableAltViewMode, Handler[S]{Reduce: b.setAltViewMode(true)})
	b.On(action.DisableAltViewMode, Handler[S]{Reduce: b.setAltViewMode(false)})
	return b
}

func (b *Base[S]) setTweakMode(v bool) func(S, action.Action) S {
	return func(state S, a action.Action) S {
		if !b.IsMine(a) {
			return state
		}
		c := state.Commons()
		c.IsTweakMode = v
		return state.WithCommons(c)
	}
}

func (b *Base[S]) setAltViewMode(v bool) func(S, action.Action) S {
	return func(state S, a action.Action) S {
		if !b.IsMine(a) {
			return state
		}
		c := state.Commons()
		c.IsAltViewMode = v
		return state.WithCommons(c)
	}
}

// On registers h for actions named name, replacing any previous handler.
func (b *Base[S]) On(name action.Name, h Handler[S]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = h
}

// TileID implements Model.
func (b *Base[S]) TileID() int {
	return b.env.TileID
}

// Env returns the environment the tile was created with.
func (b *Base[S]) Env() Env {
	return b.env
}

// Logger returns the tile logger.
func (b *Base[S]) Logger() *logging.Logger {
	return b.logger
}

// State returns the current state. Reducers never modify a state in place,
// so the value can be read freely.
func (b *Base[S]) State() S {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Commons implements Model.
func (b *Base[S]) Commons() Common {
	return b.State().Commons()
}

// Snapshot implements Model.
func (b *Base[S]) Snapshot() interface{} {
	return b.State()
}

// IsMine reports whether a is addressed to (or sent by) this tile.
func (b *Base[S]) IsMine(a action.Action) bool {
	id, ok := a.TileID()
	return ok && id == b.env.TileID
}

// IsCurrent reports whether a belongs to the round the tile is in.
func (b *Base[S]) IsCurrent(state S, a action.Action) bool {
	return a.Round() == state.Commons().Round
}

// Idle accepts actions addressed to the tile once it finished a round and
// is not busy. It serves as Handler.Accept for retries and tweaks.
func (b *Base[S]) Idle(state S, a action.Action) bool {
	c := state.Commons()
	return b.IsMine(a) && !c.IsBusy && c.Round > 0
}

// OwnResult returns the payload of a when it is the tile's own
// TileDataLoaded of the current round.
func (b *Base[S]) OwnResult(state S, a action.Action) (action.TileLoaded, bool) {
	p, ok := a.Payload.(action.TileLoaded)
	if !ok || a.Name != action.TileDataLoaded || p.TileID != b.env.TileID || !b.IsCurrent(state, a) {
		return action.TileLoaded{}, false
	}
	return p, true
}

// DependOn makes the base track upstream results of r in the rendered
// state: the tile stays in PhaseWaiting until every upstream tile of the
// round reported.
func (b *Base[S]) DependOn(r *Resolver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deps = r
}

func (b *Base[S]) trackUpstream(state S, a action.Action) S {
	id, ok := a.TileID()
	c := state.Commons()
	if !ok || !b.deps.Watches(id) || c.Phase != PhaseWaiting || a.Round() != c.Round {
		return state
	}
	pending := make([]int, 0, len(c.Pending))
	for _, p := range c.Pending {
		if p != id {
			pending = append(pending, p)
		}
	}
	c.Pending = pending
	if len(pending) == 0 && a.Error == nil {
		c.Phase = PhaseLoading
	}
	return state.WithCommons(c)
}

// HandleAction implements action.Handler. Reducers run under the base
// lock and must not call State.
func (b *Base[S]) HandleAction(a action.Action) action.Effect {
	b.mu.Lock()
	if b.deps != nil && a.Name == action.TileDataLoaded && !b.IsMine(a) {
		// kept even when no wait is running, a retry reuses it
		b.deps.Record(a)
		b.state = b.trackUpstream(b.state, a)
	}
	h, ok := b.handlers[a.Name]
	if !ok || (h.Accept != nil && !h.Accept(b.state, a)) {
		b.mu.Unlock()
		return nil
	}
	if h.Reduce != nil {
		b.state = h.Reduce(b.state, a)
	}
	state := b.state
	b.mu.Unlock()

	if h.Effect == nil {
		return nil
	}
	return func(d action.Dispatcher) {
		h.Effect(state, a, d)
	}
}

// Go runs fn in its own goroutine with the session context. A returned
// error or a panic is passed to fail.
func (b *Base[S]) Go(fn func(ctx context.Context) error, fail func(err error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Tile effect panic", map[string]interface{}{
					"panic": fmt.Sprintf("%v", r),
					"stack": string(debug.Stack()),
				})
				if fail != nil {
					fail(errors.Newf(errors.InternalError, "tile %d failed unexpectedly", b.env.TileID))
				}
			}
		}()
		if err := fn(b.env.context()); err != nil && fail != nil {
			fail(err)
		}
	}()
}

// Fail reports a failed load of round: the tile result with the error set
// and a system message. Failures of rounds the tile already left are only
// logged.
func (b *Base[S]) Fail(d action.Dispatcher, round uint64, err error) {
	if stderrors.Is(err, ErrSuperseded) {
		return
	}
	b.logger.Warn("Tile load failed", map[string]interface{}{
		"round": round,
		"error": err.Error(),
	})
	// the message goes first so it is queued once the result is seen
	if b.Commons().Round == round {
		d.Dispatch(sysmsg.ErrorAction(b.env.TileID, errors.UserMessage(err)))
	}
	d.Dispatch(Failed(b.env.TileID, round, err))
}

// FailPartial reports a failed query slot of a multi-slot tile.
func (b *Base[S]) FailPartial(d action.Dispatcher, round uint64, queryID int, err error) {
	b.logger.Warn("Tile partial load failed", map[string]interface{}{
		"round":   round,
		"queryId": queryID,
		"error":   err.Error(),
	})
	d.Dispatch(action.Action{
		Name: action.TilePartialDataLoaded,
		Payload: action.PartialLoaded{
			TileID:  b.env.TileID,
			Round:   round,
			QueryID: queryID,
			IsEmpty: true,
		},
		Error: err,
	})
	if b.Commons().Round == round {
		d.Dispatch(sysmsg.ErrorAction(b.env.TileID, errors.UserMessage(err)))
	}
}

// HandleSourceInfo answers GetSourceInfo addressed to the tile using p.
// corpname is used when the request names no corpus.
func (b *Base[S]) HandleSourceInfo(p backends.SourceInfoProvider, corpname string) {
	b.On(action.GetSourceInfo, Handler[S]{
		Effect: func(state S, a action.Action, d action.Dispatcher) {
			req, ok := a.Payload.(action.SourceInfoRequest)
			if !ok || req.TileID != b.env.TileID {
				return
			}
			if req.Corpname == "" {
				req.Corpname = corpname
			}
			b.Go(
				func(ctx context.Context) error {
					data, err := p.GetSourceDescription(ctx, req.TileID, req.UILang, req.Corpname)
					if err != nil {
						return err
					}
					d.Dispatch(action.Action{
						Name:    action.GetSourceInfoDone,
						Payload: action.SourceInfoDone{TileID: req.TileID, Data: data},
					})
					return nil
				},
				func(err error) {
					d.Dispatch(action.Action{
						Name:    action.GetSourceInfoDone,
						Payload: action.SourceInfoDone{TileID: req.TileID},
						Error:   err,
					})
					d.Dispatch(sysmsg.ErrorAction(req.TileID, errors.UserMessage(err)))
				},
			)
		},
	})
}

// AwaitUpstream waits in the background until r collected the upstream
// results of round, then runs load. Call it from an effect. Wait errors and
// load errors are reported with Fail.
func (b *Base[S]) AwaitUpstream(d action.Dispatcher, r *Resolver, round uint64, load func(ctx context.Context) error) {
	w := r.Watch(d)
	b.Go(
		func(ctx context.Context) error {
			if err := w.Wait(ctx, b.env.WaitTimeout); err != nil {
				return err
			}
			return load(ctx)
		},
		func(err error) {
			b.Fail(d, round, err)
		},
	)
}

// Loaded builds a successful tile result.
func Loaded(tileID int, round uint64, isEmpty bool, body action.Body, data interface{}) action.Action {
	return action.Action{
		Name: action.TileDataLoaded,
		Payload: action.TileLoaded{
			TileID:  tileID,
			Round:   round,
			IsEmpty: isEmpty,
			Body:    body,
			Data:    data,
		},
	}
}

// Failed builds a failed tile result.
func Failed(tileID int, round uint64, err error) action.Action {
	return action.Action{
		Name:    action.TileDataLoaded,
		Payload: action.TileLoaded{TileID: tileID, Round: round, IsEmpty: true},
		Error:   err,
	}
}
