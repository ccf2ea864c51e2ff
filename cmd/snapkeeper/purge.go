package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/arencloud/snapkeeper/internal/purge"
)

type purgeOptions struct {
	partnerID string
	prefix    string
	archive   bool
	noPrompt  bool
}

func newPurgeCmd() *cobra.Command {
	var opts purgeOptions
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every object under a bucket prefix",
		Long: `Delete every object under --prefix in the partner bucket. Without --prefix
the entire bucket is emptied. Intended for decommissioning.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.runPurge(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.partnerID, "partner-id", "", "partner ID")
	f.StringVar(&opts.prefix, "prefix", "", "prefix to delete; the entire bucket when omitted")
	f.BoolVar(&opts.archive, "archive", false, "bucket is used for archive")
	f.BoolVar(&opts.noPrompt, "no-prompt", false, "don't prompt for confirmation")
	_ = cmd.MarkFlagRequired("partner-id")
	return cmd
}

func (a *app) runPurge(ctx context.Context, opts purgeOptions) error {
	s, err := a.resolve(ctx, opts.partnerID, opts.archive)
	if err != nil {
		return err
	}
	what := opts.prefix
	if what == "" {
		what = "bucket " + s.partner.Bucket
	}
	if !opts.noPrompt && !confirm("Deleting all objects under %s. Do you want to continue?", what) {
		a.printf("Aborted")
		return nil
	}

	return a.run(ctx, "purge", s.partner.ID, func(ctx context.Context) (outcome, error) {
		res, err := purge.New(s.store, a.log.Named("purge")).Purge(ctx, opts.prefix)
		a.metrics.ObservePurge(res)
		if err != nil {
			return outcome{summary: res}, err
		}
		a.printf("Removed %d objects under %s", res.Removed, what)
		return outcome{summary: res}, nil
	})
}
