// Package queryform holds the query form: the user's query words, their
// resolution into lemma variants and the start of every search round.
package queryform

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/logging"
	"github.com/czcorpus/wag-sub001/internal/query"
	"github.com/czcorpus/wag-sub001/internal/sysmsg"
)

// DefaultResolveTimeout bounds one lemma lookup round.
const DefaultResolveTimeout = 10 * time.Second

// State is the query form state.
type State struct {
	QueryType query.Type     `json:"queryType"`
	Queries   []string       `json:"queries"`
	Lang1     string         `json:"lang1,omitempty"`
	Lang2     string         `json:"lang2,omitempty"`
	Matches   query.MatchSet `json:"matches"`
	Round     uint64         `json:"round"`
	IsBusy    bool           `json:"isBusy"`
	Error     string         `json:"error,omitempty"`
}

// Config tunes the model.
type Config struct {
	// MinFreq drops lemma variants rarer than this
	MinFreq        int
	ResolveTimeout time.Duration
}

// Model reduces query form actions. It owns the round counter, so every
// RequestQueryResponse it dispatches carries a greater round than the one
// before.
type Model struct {
	resolver backends.LemmaResolver
	conf     Config
	logger   *logging.Logger

	mu    sync.RWMutex
	state State
}

// NewModel creates the model. A nil resolver treats every word as missing
// from the dictionary.
func NewModel(resolver backends.LemmaResolver, conf Config, logger *logging.Logger) *Model {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	if conf.ResolveTimeout <= 0 {
		conf.ResolveTimeout = DefaultResolveTimeout
	}
	return &Model{
		resolver: resolver,
		conf:     conf,
		logger:   logger.With(map[string]interface{}{"component": "queryform"}),
		state:    State{QueryType: query.Single, Queries: []string{""}},
	}
}

// State returns a snapshot of the state.
func (m *Model) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ans := m.state
	ans.Queries = append([]string(nil), m.state.Queries...)
	ans.Matches = m.state.Matches.Clone()
	return ans
}

func validate(s State) error {
	switch s.QueryType {
	case query.Single, query.Translat:
		if len(s.Queries) < 1 || strings.TrimSpace(s.Queries[0]) == "" {
			return errors.Newf(errors.ArgsMapping, "empty query")
		}
		if s.QueryType == query.Translat && s.Lang2 == "" {
			return errors.Newf(errors.ArgsMapping, "translation needs a target language")
		}
	case query.Cmp:
		if len(s.Queries) < 2 {
			return errors.Newf(errors.ArgsMapping, "comparison needs at least two queries")
		}
		for i, q := range s.Queries {
			if strings.TrimSpace(q) == "" {
				return errors.Newf(errors.ArgsMapping, "query %d is empty", i+1)
			}
		}
	default:
		return errors.Newf(errors.ArgsMapping, "unknown query type %q", s.QueryType)
	}
	return nil
}

// HandleAction implements action.Handler.
func (m *Model) HandleAction(a action.Action) action.Effect {
	switch a.Name {
	case action.ChangeQueryInput:
		p, ok := a.Payload.(action.QueryInput)
		if !ok || p.QueryIdx < 0 {
			return nil
		}
		m.mu.Lock()
		for len(m.state.Queries) <= p.QueryIdx {
			m.state.Queries = append(m.state.Queries, "")
		}
		m.state.Queries[p.QueryIdx] = p.Value
		m.mu.Unlock()
		return nil

	case action.SubmitQuery:
		return m.submit(a)

	case action.QueryMatchesResolved:
		return m.matchesResolved(a)

	case action.ChangeCurrentLemma:
		return m.changeLemma(a)
	}
	return nil
}

func (m *Model) submit(a action.Action) action.Effect {
	m.mu.Lock()
	next := m.state
	if p, ok := a.Payload.(action.QuerySubmit); ok {
		if p.QueryType != "" {
			next.QueryType = p.QueryType
		}
		if len(p.Queries) > 0 {
			next.Queries = append([]string(nil), p.Queries...)
		}
		next.Lang1 = p.Lang1
		next.Lang2 = p.Lang2
	}
	if next.QueryType != query.Cmp && len(next.Queries) > 1 {
		next.Queries = next.Queries[:1]
	}
	if err := validate(next); err != nil {
		m.state.Error = err.Error()
		m.mu.Unlock()
		return func(d action.Dispatcher) {
			d.Dispatch(action.Action{
				Name:    action.AddSystemMessage,
				Payload: action.SystemMessage{Type: sysmsg.TypeError, Text: errors.UserMessage(err)},
			})
		}
	}
	next.Round = m.state.Round + 1
	next.IsBusy = true
	next.Error = ""
	m.state = next
	round := next.Round
	words := append([]string(nil), next.Queries...)
	m.mu.Unlock()

	return func(d action.Dispatcher) {
		go m.resolve(d, round, words)
	}
}

// resolve looks up lemma variants of every query word. Words the database
// does not know, or a failed lookup, yield a non-dictionary variant so the
// round can still run.
func (m *Model) resolve(d action.Dispatcher, round uint64, words []string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.conf.ResolveTimeout)
	defer cancel()

	matches := make(query.MatchSet, len(words))
	for i, w := range words {
		w = strings.TrimSpace(w)
		var variants []query.QueryMatch
		if m.resolver != nil {
			var err error
			variants, err = m.resolver.FindQueryMatches(ctx, w, m.conf.MinFreq)
			if err != nil {
				m.logger.Warn("Lemma lookup failed", map[string]interface{}{
					"word":  w,
					"error": err.Error(),
				})
				d.Dispatch(action.Action{
					Name:    action.AddSystemMessage,
					Payload: action.SystemMessage{Type: sysmsg.TypeWarning, Text: "failed to look up word " + w},
				})
				variants = nil
			}
		}
		if len(variants) == 0 {
			variants = []query.QueryMatch{query.NonDictMatch(w)}
		}
		matches[i] = variants
	}
	d.Dispatch(action.Action{
		Name:    action.QueryMatchesResolved,
		Payload: action.Matches{Round: round, Matches: matches},
	})
}

func (m *Model) request() action.Action {
	return action.Action{
		Name: action.RequestQueryResponse,
		Payload: action.QueryRequest{
			Round:     m.state.Round,
			QueryType: m.state.QueryType,
			Matches:   m.state.Matches.Clone(),
			Lang1:     m.state.Lang1,
			Lang2:     m.state.Lang2,
		},
	}
}

func (m *Model) matchesResolved(a action.Action) action.Effect {
	p, ok := a.Payload.(action.Matches)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Round != m.state.Round {
		m.logger.Debug("Ignoring lemma variants of a previous round", map[string]interface{}{
			"round":   p.Round,
			"current": m.state.Round,
		})
		return nil
	}
	m.state.Matches = p.Matches.Clone()
	m.state.IsBusy = false
	req := m.request()
	return func(d action.Dispatcher) {
		d.Dispatch(req)
	}
}

// changeLemma selects another variant and runs a new round with the
// already resolved variants.
func (m *Model) changeLemma(a action.Action) action.Effect {
	p, ok := a.Payload.(action.LemmaChoice)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.IsBusy {
		return nil
	}
	matches, err := m.state.Matches.WithCurrent(p.QueryIdx, p.VariantIdx)
	if err != nil {
		m.logger.Warn("Invalid lemma choice", map[string]interface{}{"error": err.Error()})
		return nil
	}
	m.state.Matches = matches
	m.state.Round++
	req := m.request()
	return func(d action.Dispatcher) {
		d.Dispatch(req)
	}
}
