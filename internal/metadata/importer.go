package metadata

import (
	"context"

	"github.com/arencloud/snapkeeper/internal/logging"
)

// Result counts what one Restore did.
type Result struct {
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
}

func (r *Result) Add(o Result) {
	r.Updated += o.Updated
	r.Unchanged += o.Unchanged
	r.Skipped += o.Skipped
}

type Importer struct {
	log logging.Logger
}

func NewImporter(log logging.Logger) *Importer {
	return &Importer{log: log}
}

// Restore merges every entry of blob through binding. Entries that cannot be
// merged are logged and skipped; the only error returned is context cancellation.
func (im *Importer) Restore(ctx context.Context, blob *Blob, binding Binding) (Result, error) {
	var res Result
	for i, raw := range blob.Entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		changed, err := binding.Merge(ctx, raw)
		switch {
		case err != nil:
			res.Skipped++
			im.log.Warn("skipping record", "kind", binding.Kind(), "index", i, "malformed", ErrMalformedRecord.Has(err), "error", err)
		case changed:
			res.Updated++
		default:
			res.Unchanged++
		}
	}
	im.log.Debug("blob restored", "kind", binding.Kind(), "updated", res.Updated, "unchanged", res.Unchanged, "skipped", res.Skipped)
	return res, nil
}
