// Package purge empties a bucket, or one prefix of it, for decommissioning.
package purge

import (
	"context"

	"github.com/zeebo/errs"

	"github.com/arencloud/snapkeeper/internal/logging"
	"github.com/arencloud/snapkeeper/internal/objectstore"
)

var Error = errs.Class("purge")

type Result struct {
	Prefix  string `json:"prefix"`
	Removed int    `json:"removed"`
}

type Purger struct {
	store objectstore.Client
	log   logging.Logger
}

func New(store objectstore.Client, log logging.Logger) *Purger {
	return &Purger{store: store, log: log}
}

// Purge removes every object under prefix; an empty prefix means the whole
// bucket. A prefix with no objects is not an error.
func (p *Purger) Purge(ctx context.Context, prefix string) (Result, error) {
	res := Result{Prefix: prefix}
	p.log.Info("purging objects", "prefix", prefix, "wholeBucket", prefix == "")
	n, err := p.store.RemoveObjects(ctx, prefix)
	res.Removed = n
	if err != nil {
		return res, Error.New("purge %q: %v", prefix, err)
	}
	p.log.Info("purge complete", "prefix", prefix, "removed", n)
	return res, nil
}
