// Package tiles holds the machinery shared by all tile models: the common
// state part, the generic action-handler base and the resolver tracking
// upstream tiles a model waits for.
package tiles

import (
	"context"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/czcorpus/wag-sub001/internal/action"
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/errors"
	"github.com/czcorpus/wag-sub001/internal/logging"
	"github.com/czcorpus/wag-sub001/internal/query"
)

// DefaultWaitTimeout bounds the wait for upstream tiles.
const DefaultWaitTimeout = 30 * time.Second

// Phase is the lifecycle position of a tile within a round.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseWaiting Phase = "waiting"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseErrored Phase = "errored"
)

// Common is the state part every tile carries.
type Common struct {
	TileID        int                  `json:"tileId"`
	Round         uint64               `json:"round"`
	Phase         Phase                `json:"phase"`
	IsBusy        bool                 `json:"isBusy"`
	IsEmpty       bool                 `json:"isEmpty"`
	Error         string               `json:"error,omitempty"`
	Pending       []int                `json:"pending,omitempty"`
	IsTweakMode   bool                 `json:"isTweakMode"`
	IsAltViewMode bool                 `json:"isAltViewMode"`
	Backlinks     []*backends.Backlink `json:"backlinks,omitempty"`
}

// Begin enters the busy part of a round. pending lists upstream tiles the
// tile still waits for.
func (c Common) Begin(round uint64, pending []int) Common {
	c.Round = round
	c.IsBusy = true
	c.IsEmpty = false
	c.Error = ""
	c.Backlinks = nil
	c.Pending = append([]int(nil), pending...)
	if len(pending) > 0 {
		c.Phase = PhaseWaiting
	} else {
		c.Phase = PhaseLoading
	}
	return c
}

// Finish leaves the busy part of a round according to the outcome in a.
func (c Common) Finish(a action.Action, isEmpty bool) Common {
	c.IsBusy = false
	c.Pending = nil
	if a.Error != nil {
		c.Phase = PhaseErrored
		c.Error = errors.UserMessage(a.Error)
		c.IsEmpty = true
		return c
	}
	c.Phase = PhaseReady
	c.Error = ""
	c.IsEmpty = isEmpty
	return c
}

// Stateful is implemented by tile states embedding Common.
type Stateful[S any] interface {
	Commons() Common
	WithCommons(c Common) S
}

// Model is a tile model registered on the bus.
type Model interface {
	action.Handler
	TileID() int
	// Commons returns the common part of the current state.
	Commons() Common
	// Snapshot returns the current state for rendering.
	Snapshot() interface{}
}

// Env is what the layout hands to every tile model.
type Env struct {
	TileID   int
	Name     string
	Registry *backends.Registry
	Logger   *logging.Logger
	// Ctx bounds the whole session; calls in flight are cancelled with it
	Ctx context.Context
	// WaitFor lists resolved upstream tile ids, in configured order
	WaitFor []int
	// SubqSources lists tiles publishing sub-queries this tile reads
	SubqSources []int
	WaitTimeout time.Duration
}

func (e Env) context() context.Context {
	if e.Ctx == nil {
		return context.Background()
	}
	return e.Ctx
}

// Conf is the part of a tile configuration every tile type understands.
type Conf struct {
	Type                string           `json:"tileType" toml:"tileType" mapstructure:"tileType"`
	Label               string           `json:"label,omitempty" toml:"label" mapstructure:"label"`
	API                 backends.APIConf `json:"api" toml:"api" mapstructure:"api"`
	WaitFor             []string         `json:"waitFor,omitempty" toml:"waitFor" mapstructure:"waitFor"`
	SubqSources         []string         `json:"readSubqFrom,omitempty" toml:"readSubqFrom" mapstructure:"readSubqFrom"`
	SupportedQueryTypes []query.Type     `json:"supportedQueryTypes,omitempty" toml:"supportedQueryTypes" mapstructure:"supportedQueryTypes"`
}

// Supports reports whether the tile takes part in qt searches. An empty
// list means single queries only.
func (c Conf) Supports(qt query.Type) bool {
	if len(c.SupportedQueryTypes) == 0 {
		return qt == query.Single
	}
	for _, t := range c.SupportedQueryTypes {
		if t == qt {
			return true
		}
	}
	return false
}

// DecodeConf decodes a raw tile configuration into dst, a pointer to a tile
// specific struct which may embed Conf with ",squash".
func DecodeConf(raw map[string]interface{}, dst interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return errors.New(errors.ConfigInvalid, "failed to create tile config decoder", err)
	}
	if err := dec.Decode(raw); err != nil {
		return errors.New(errors.ConfigInvalid, "invalid tile configuration", err)
	}
	return nil
}
