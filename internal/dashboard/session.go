package dashboard

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/layout"
	"github.com/czcorpus/wag-sub001/internal/logging"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/queryform"
	"github.com/czcorpus/wag-sub001/internal/sysmsg"
	"github.com/czcorpus/wag-sub001/internal/tiles"
)

// Request is a search as entered in the query form.
type Request struct {
	QueryType query.Type `json:"queryType"`
	Queries   []string   `json:"queries"`
	Lang1     string     `json:"lang1,omitempty"`
	Lang2     string     `json:"lang2,omitempty"`
}

// TileResult is the outcome of one tile.
type TileResult struct {
	layout.Tile
	Phase   tiles.Phase `json:"phase"`
	IsEmpty bool        `json:"isEmpty"`
	Error   string      `json:"error,omitempty"`
	State   interface{} `json:"state"`
}

// Result is the dashboard after a search round.
type Result struct {
	SessionID string         `json:"sessionId"`
	Round     uint64         `json:"round"`
	QueryType query.Type     `json:"queryType"`
	Queries   []string       `json:"queries"`
	Matches   query.MatchSet `json:"matches"`
	// Complete is false when the search timeout expired before every tile
	// finished
	Complete bool             `json:"complete"`
	Tiles    []TileResult     `json:"tiles"`
	Messages []sysmsg.Message `json:"messages"`
}

// Session is one dashboard: a bus with the query form, the system message
// queue and the tiles of one layout registered on it.
type Session struct {
	ID       string
	settings Settings
	layout   *layout.Layout
	bus      *action.Bus
	form     *queryform.Model
	messages *sysmsg.Queue
	logger   *logging.Logger

	cancel context.CancelFunc
	done   chan struct{}

	// rounds run one at a time
	mu sync.Mutex
}

// NewSession builds the layout of query type qt and starts its bus.
func (e *Engine) NewSession(qt query.Type) (*Session, error) {
	settings := e.Settings()
	id := uuid.New().String()
	logger := e.logger.With(map[string]interface{}{"session": id})

	ctx, cancel := context.WithCancel(context.Background())
	l, err := layout.Build(qt, settings.Layouts, settings.Tiles, layout.Options{
		Registry:    e.services.Registry,
		Logger:      logger,
		Ctx:         ctx,
		WaitTimeout: settings.WaitTimeout,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Session{
		ID:       id,
		settings: settings,
		layout:   l,
		bus:      action.NewBus(logger),
		form:     queryform.NewModel(e.services.Resolver, queryform.Config{MinFreq: settings.MinFreq}, logger),
		messages: sysmsg.NewQueue(settings.MessageTTL),
		logger:   logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.bus.Register(s.form)
	s.bus.Register(s.messages)
	for _, m := range l.Models() {
		s.bus.Register(m)
	}
	go func() {
		defer close(s.done)
		_ = s.bus.Run(ctx)
	}()

	logger.Debug("Session started", map[string]interface{}{
		"queryType": string(qt),
		"tiles":     len(l.Tiles),
	})
	return s, nil
}

// Close stops the bus. Loads still running are cancelled.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// Layout returns the tiles of the session.
func (s *Session) Layout() *layout.Layout {
	return s.layout
}

// Messages exposes the system message queue.
func (s *Session) Messages() *sysmsg.Queue {
	return s.messages
}

// Dispatch sends a to the session bus, e.g. a tweak mode toggle.
func (s *Session) Dispatch(a action.Action) {
	s.bus.Dispatch(a)
}

// Search submits req and waits until every tile finished the round.
func (s *Session) Search(ctx context.Context, req Request) (*Result, error) {
	return s.SearchProgress(ctx, req, nil)
}

// SearchProgress is Search reporting tile results to progress as they
// arrive. progress runs on the calling goroutine.
func (s *Session) SearchProgress(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	if req.QueryType == "" {
		req.QueryType = s.layout.QueryType
	}
	if req.QueryType != s.layout.QueryType {
		return nil, errors.Newf(errors.ArgsMapping, "the dashboard serves %s queries, got %s",
			s.layout.QueryType, req.QueryType)
	}
	return s.runRound(ctx, action.Action{
		Name: action.SubmitQuery,
		Payload: action.QuerySubmit{
			QueryType: req.QueryType,
			Queries:   req.Queries,
			Lang1:     req.Lang1,
			Lang2:     req.Lang2,
		},
	}, progress)
}

// ChangeLemma selects another lemma variant of query queryIdx and reruns
// the search.
func (s *Session) ChangeLemma(ctx context.Context, queryIdx, variantIdx int) (*Result, error) {
	st := s.form.State()
	if st.Round == 0 {
		return nil, errors.Newf(errors.ArgsMapping, "no search to refine")
	}
	if _, err := st.Matches.WithCurrent(queryIdx, variantIdx); err != nil {
		return nil, errors.New(errors.ArgsMapping, "invalid lemma choice", err)
	}
	return s.runRound(ctx, action.Action{
		Name:    action.ChangeCurrentLemma,
		Payload: action.LemmaChoice{QueryIdx: queryIdx, VariantIdx: variantIdx},
	}, nil)
}

func (s *Session) runRound(ctx context.Context, trigger action.Action, progress ProgressFunc) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if progress == nil {
		progress = func(Progress) {}
	}
	prev := s.form.State().Round
	sub := s.bus.Subscribe(func(a action.Action) bool {
		switch a.Name {
		case action.RequestQueryResponse, action.TileDataLoaded, action.TilePartialDataLoaded, action.AddSystemMessage:
			return true
		}
		return false
	})
	defer sub.Close()

	waitCtx := ctx
	if s.settings.SearchTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.settings.SearchTimeout)
		defer cancel()
	}

	s.bus.Dispatch(trigger)

	var round uint64
	pending := make(map[int]struct{}, len(s.layout.Tiles))
	for _, t := range s.layout.Tiles {
		pending[t.ID] = struct{}{}
	}
	complete := true
	for round == 0 || len(pending) > 0 {
		a, err := sub.Next(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if round == 0 {
				return nil, errors.New(errors.DependencyTimeout, "query words could not be resolved in time", err)
			}
			s.logger.Warn("Search timed out", map[string]interface{}{
				"round":   round,
				"pending": len(pending),
			})
			complete = false
			break
		}
		switch a.Name {
		case action.RequestQueryResponse:
			if r := a.Round(); r > prev && round == 0 {
				round = r
				progress(Progress{Kind: ProgressRound, Round: round, Matches: s.form.State().Matches})
			}
		case action.AddSystemMessage:
			p, ok := a.Payload.(action.SystemMessage)
			if !ok {
				continue
			}
			// the form rejects an invalid query before any round starts
			if round == 0 {
				st := s.form.State()
				if p.Type == sysmsg.TypeError && st.Round == prev && st.Error != "" {
					return nil, errors.New(errors.ArgsMapping, p.Text, nil)
				}
			}
			progress(Progress{Kind: ProgressMessage, Round: round, Message: &p})
		case action.TileDataLoaded, action.TilePartialDataLoaded:
			if round == 0 || a.Round() != round {
				continue
			}
			id, ok := a.TileID()
			if !ok {
				continue
			}
			t, ok := s.layout.Tile(id)
			if !ok {
				continue
			}
			kind := ProgressPartial
			if a.Name == action.TileDataLoaded {
				kind = ProgressTile
				delete(pending, id)
			}
			tr := snapshot(t)
			progress(Progress{Kind: kind, Round: round, Tile: &tr})
		}
	}

	st := s.form.State()
	ans := &Result{
		SessionID: s.ID,
		Round:     round,
		QueryType: st.QueryType,
		Queries:   st.Queries,
		Matches:   st.Matches,
		Complete:  complete,
		Tiles:     make([]TileResult, 0, len(s.layout.Tiles)),
		Messages:  s.messages.Active(),
	}
	for _, t := range s.layout.Tiles {
		ans.Tiles = append(ans.Tiles, snapshot(t))
	}
	s.logger.Info("Search finished", map[string]interface{}{
		"round":    round,
		"queries":  len(st.Queries),
		"complete": complete,
	})
	return ans, nil
}

func snapshot(t layout.Tile) TileResult {
	c := t.Model.Commons()
	return TileResult{
		Tile:    t,
		Phase:   c.Phase,
		IsEmpty: c.IsEmpty,
		Error:   c.Error,
		State:   t.Model.Snapshot(),
	}
}

// Tile returns the current state of tile id.
func (s *Session) Tile(id int) (TileResult, error) {
	t, ok := s.layout.Tile(id)
	if !ok {
		return TileResult{}, errors.Newf(errors.NotFound, "no tile %d", id)
	}
	return snapshot(t), nil
}

// Retry reloads a failed tile within the current round. Failed tiles it
// depends on are retried before it and failed tiles depending on it after
// it, so a chain broken by one upstream failure recovers in one call. A
// tile whose upstream is still failed after that is left as it is.
func (s *Session) Retry(ctx context.Context, tileID int) (TileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.layout.Tile(tileID)
	if !ok {
		return TileResult{}, errors.Newf(errors.NotFound, "no tile %d", tileID)
	}
	if c := t.Model.Commons(); c.Phase != tiles.PhaseErrored {
		return TileResult{}, errors.Newf(errors.ArgsMapping, "tile %d has not failed", tileID)
	}
	for _, id := range s.layout.Chain(tileID) {
		if !s.failed(id) || s.upstreamFailed(id) {
			continue
		}
		if err := s.retryTile(ctx, id); err != nil {
			return TileResult{}, err
		}
	}
	return snapshot(t), nil
}

func (s *Session) failed(id int) bool {
	t, ok := s.layout.Tile(id)
	return ok && t.Model.Commons().Phase == tiles.PhaseErrored
}

func (s *Session) upstreamFailed(id int) bool {
	for _, u := range s.layout.Upstream(id) {
		if s.failed(u) {
			return true
		}
	}
	return false
}

// retryTile dispatches RetryTileLoad and waits for the tile's result
func (s *Session) retryTile(ctx context.Context, tileID int) error {
	sub := s.bus.Subscribe(func(a action.Action) bool {
		id, _ := a.TileID()
		return a.Name == action.TileDataLoaded && id == tileID
	})
	s.logger.Debug("Retrying tile", map[string]interface{}{"tileID": tileID})
	s.bus.Dispatch(action.Action{Name: action.RetryTileLoad, Payload: action.TileRef{TileID: tileID}})
	_, err := sub.Await(ctx, s.settings.SearchTimeout)
	return err
}

// SourceInfo asks a tile to describe its data source. An empty corpname
// selects the corpus the tile is configured with.
func (s *Session) SourceInfo(ctx context.Context, tileID int, corpname, uiLang string) (*backends.SourceDetails, error) {
	if _, ok := s.layout.Tile(tileID); !ok {
		return nil, errors.Newf(errors.NotFound, "no tile %d", tileID)
	}
	sub := s.bus.Subscribe(func(a action.Action) bool {
		id, _ := a.TileID()
		return a.Name == action.GetSourceInfoDone && id == tileID
	})
	s.bus.Dispatch(action.Action{
		Name:    action.GetSourceInfo,
		Payload: action.SourceInfoRequest{TileID: tileID, Corpname: corpname, UILang: uiLang},
	})
	a, err := sub.Await(ctx, s.settings.SearchTimeout)
	if err != nil {
		return nil, err
	}
	if a.Error != nil {
		return nil, a.Error
	}
	p, ok := a.Payload.(action.SourceInfoDone)
	if !ok || p.Data == nil {
		return nil, errors.Newf(errors.NotFound, "tile %d provides no source information", tileID)
	}
	return p.Data, nil
}

