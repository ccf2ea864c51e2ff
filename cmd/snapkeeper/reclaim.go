package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arencloud/snapkeeper/internal/deletion"
	"github.com/arencloud/snapkeeper/internal/reclaim"
)

type reclaimOptions struct {
	partnerID string
	days      int
	archive   bool
	noPrompt  bool
}

func newReclaimCmd() *cobra.Command {
	var opts reclaimOptions
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Delete volumes and snapshots older than the retention period",
		Long: `Classify every volume of a partner against the retention cutoff. Volumes
with no snapshots, or with only expired snapshots, are deleted. Expired
snapshots of other volumes are queued as deletion sessions; complete them
with 'snapkeeper sessions process'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.days < 0 {
				return fmt.Errorf("--days must not be negative")
			}
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.runReclaim(cmd.Context(), opts, time.Now().UTC())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.partnerID, "partner-id", "", "partner ID")
	f.IntVar(&opts.days, "days", 0, "retention period in days")
	f.BoolVar(&opts.archive, "archive", false, "operate on the archive catalog")
	f.BoolVar(&opts.noPrompt, "no-prompt", false, "don't prompt for confirmation")
	_ = cmd.MarkFlagRequired("partner-id")
	_ = cmd.MarkFlagRequired("days")
	return cmd
}

func (a *app) runReclaim(ctx context.Context, opts reclaimOptions, now time.Time) error {
	s, err := a.resolve(ctx, opts.partnerID, opts.archive)
	if err != nil {
		return err
	}
	cutoff := now.Add(-time.Duration(opts.days) * 24 * time.Hour)
	if !opts.noPrompt && !confirm("Deleting snapshots older than %s. Do you want to continue?", cutoff.Format(time.RFC3339)) {
		a.printf("Aborted")
		return nil
	}

	svc := deletion.New(a.repo, s.store, s.layout, a.log.Named("deletion"))
	return a.run(ctx, "reclaim", s.partner.ID, func(ctx context.Context) (outcome, error) {
		sum, err := reclaim.New(svc, a.log.Named("reclaim")).Reclaim(ctx, s.target, cutoff)
		a.metrics.ObserveReclaim(sum)
		if err != nil {
			return outcome{summary: sum, failures: sum.Failures()}, err
		}
		a.printf("Cleanup complete for partner ID %s. Reclaimed %d empty volumes. Reclaimed %d volumes with expired snapshots. "+
			"There are %d remaining volumes. Created sessions to delete %d snapshots from %d volumes. "+
			"Please monitor the deletion sessions ('snapkeeper sessions list') to ensure that they complete.",
			s.partner.ID, sum.EmptyVolumes, sum.ExpiredVolumes, sum.RemainingVolumes,
			sum.ReclaimedSnapshots, sum.VolumesWithReclaimedSnapshots)
		if sum.Failures() > 0 {
			a.printf("Failures: %d volume deletes, %d volume scans, %d snapshots",
				sum.DeleteFailures, sum.ScanFailures, sum.SnapshotFailures)
		}
		return outcome{summary: sum, failures: sum.Failures()}, nil
	})
}
