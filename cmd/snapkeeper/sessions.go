package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arencloud/snapkeeper/internal/deletion"
)

type sessionsOptions struct {
	partnerID string
	archive   bool
	state     string
	limit     int
}

func newSessionsCmd() *cobra.Command {
	var opts sessionsOptions
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Monitor and complete snapshot deletion sessions",
	}
	sessionsCmd.PersistentFlags().StringVar(&opts.partnerID, "partner-id", "", "partner ID")
	sessionsCmd.PersistentFlags().BoolVar(&opts.archive, "archive", false, "operate on the archive catalog")
	_ = sessionsCmd.MarkPersistentFlagRequired("partner-id")

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List deletion sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.listSessions(cmd.Context(), opts)
		},
	}
	listCmd.Flags().StringVar(&opts.state, "state", "", "only sessions in this state: pending|completed|failed")
	sessionsCmd.AddCommand(listCmd)

	processCmd := &cobra.Command{
		Use:   "process",
		Short: "Remove the data of pending and failed sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.processSessions(cmd.Context(), opts)
		},
	}
	processCmd.Flags().IntVar(&opts.limit, "limit", 0, "process at most this many sessions (0 means all)")
	sessionsCmd.AddCommand(processCmd)

	return sessionsCmd
}

func (a *app) listSessions(ctx context.Context, opts sessionsOptions) error {
	s, err := a.resolve(ctx, opts.partnerID, opts.archive)
	if err != nil {
		return err
	}
	sessions, err := a.repo.ListSessions(ctx, s.target, opts.state)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		a.printf("No deletion sessions")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVOLUME\tSNAPSHOT\tSTATE\tOBJECTS\tUPDATED\tERROR")
	for _, ds := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			ds.ID, ds.VolumeID, ds.SnapVersion, ds.State, ds.ObjectsRemoved, ds.UpdatedAt.Format(time.RFC3339), ds.Error)
	}
	return w.Flush()
}

func (a *app) processSessions(ctx context.Context, opts sessionsOptions) error {
	s, err := a.resolve(ctx, opts.partnerID, opts.archive)
	if err != nil {
		return err
	}
	svc := deletion.New(a.repo, s.store, s.layout, a.log.Named("deletion"))
	return a.run(ctx, "sessions", s.partner.ID, func(ctx context.Context) (outcome, error) {
		res, err := svc.ProcessSessions(ctx, s.target, opts.limit)
		a.metrics.ObserveSessions(res)
		if err != nil {
			return outcome{summary: res, failures: res.Failed}, err
		}
		a.printf("Completed %d sessions, %d failed, removed %d objects", res.Completed, res.Failed, res.ObjectsRemoved)
		return outcome{summary: res, failures: res.Failed}, nil
	})
}
