// Package vendors registers every built-in adapter.
package vendors

import (
	"github.com/czcorpus/wag-sub001/internal/backends"
	"github.com/czcorpus/wag-sub001/internal/backends/datamuse"
	"github.com/czcorpus/wag-sub001/internal/backends/elastic"
	"github.com/czcorpus/wag-sub001/internal/backends/fcs"
	"github.com/czcorpus/wag-sub001/internal/backends/freqdb"
	"github.com/czcorpus/wag-sub001/internal/backends/kontext"
	"github.com/czcorpus/wag-sub001/internal/backends/lcc"
	"github.com/czcorpus/wag-sub001/internal/backends/mquery"
)

// NewRegistry returns a registry with all vendors. freqDB may be nil, the
// freqdb vendor then fails on use.
func NewRegistry(env backends.Env, freqDB *freqdb.DB) *backends.Registry {
	r := backends.NewRegistry(env)
	kontext.Register(r)
	mquery.Register(r)
	fcs.Register(r)
	lcc.Register(r)
	datamuse.Register(r)
	elastic.Register(r)
	freqdb.Register(r, freqDB)
	return r
}
