package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arencloud/snapkeeper/internal/consolidate"
	"github.com/arencloud/snapkeeper/internal/partner"
)

type importOptions struct {
	params   partner.Params
	global   bool
	noPrompt bool
}

func newImportCmd() *cobra.Command {
	var opts importOptions
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Register a bucket and import its metadata into the local catalog",
		Long: `Register a cloud or archive bucket as a partner and import the tag, volume,
option and snapshot metadata found in it. Without --global only volumes owned
by this system are imported. Missing connection values are prompted for.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.runImport(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.params.Endpoint, "endpoint", "", "object store endpoint URL")
	f.StringVar(&opts.params.AccessKey, "access-key", "", "access key")
	f.StringVar(&opts.params.SecretKey, "secret-key", "", "secret key")
	f.StringVar(&opts.params.Bucket, "bucket", "", "bucket name")
	f.StringVar(&opts.params.Provider, "provider", "", "provider type: sp|cos|aws|generic|minio")
	f.StringVar(&opts.params.Region, "region", "", "bucket region")
	f.Int64Var(&opts.params.ChunkSize, "chunk-size", 0, "upload chunk size in bytes")
	f.StringVar(&opts.params.CertFile, "cert-file", "", "PEM file with the endpoint certificate")
	f.BoolVar(&opts.params.Archive, "archive", false, "bucket is used for archive")
	f.BoolVar(&opts.params.DeepStorage, "deep-storage", false, "use deep storage (AWS only)")
	f.BoolVar(&opts.global, "global", false, "import metadata of every system sharing the bucket")
	f.BoolVar(&opts.noPrompt, "no-prompt", false, "fail instead of prompting for missing values")
	return cmd
}

// fillParams prompts for required registration values not given as flags.
func fillParams(p *partner.Params, noPrompt bool) error {
	fields := []struct {
		value  *string
		label  string
		secret bool
	}{
		{&p.Endpoint, "Endpoint URL", false},
		{&p.AccessKey, "Access Key", false},
		{&p.SecretKey, "Secret Key", true},
		{&p.Bucket, "Bucket", false},
		{&p.Provider, "Provider Type", false},
	}
	for _, f := range fields {
		if *f.value != "" {
			continue
		}
		if noPrompt {
			return fmt.Errorf("%s is required", f.label)
		}
		if f.secret {
			*f.value = askSecret(f.label)
		} else {
			*f.value = ask(f.label)
		}
	}
	return nil
}

func (a *app) runImport(ctx context.Context, opts importOptions) error {
	if err := fillParams(&opts.params, opts.noPrompt); err != nil {
		return err
	}
	systemID, err := a.cfg.ResolveSystemID()
	if err != nil {
		return err
	}
	reg, err := a.registry()
	if err != nil {
		return err
	}

	tier := "cloud"
	if opts.params.Archive {
		tier = "archive"
	}
	a.printf("Adding %s partner", tier)
	p, err := reg.Register(ctx, opts.params)
	if err != nil {
		return err
	}
	s, err := a.bind(reg, p, p.Archive)
	if err != nil {
		return err
	}
	a.printf("Partner ID %s", p.ID)

	return a.run(ctx, "import", p.ID, func(ctx context.Context) (outcome, error) {
		a.printf("Scanning bucket %s for metadata", p.Bucket)
		res, err := consolidate.New(consolidate.Config{
			Store:    s.store,
			Repo:     a.repo,
			Layout:   s.layout,
			Target:   s.target,
			SystemID: systemID,
			Log:      a.log.Named("consolidate"),
		}).Consolidate(ctx, opts.global)
		a.metrics.ObserveImport(res)
		if err != nil {
			return outcome{summary: res, failures: res.Failures}, err
		}
		a.printf("Total imported tag metadata objects: %d", res.TagsRestored)
		a.printf("Total imported volume metadata objects: %d", res.VolumesRestored)
		a.printf("Total imported option metadata objects: %d", res.OptionsRestored)
		a.printf("Total imported snapshot metadata objects: %d", res.SnapshotsRestored)
		a.printf("Scanned %d volumes of %d systems; skipped %d foreign and %d unstaged volumes; %d failures",
			res.VolumesScanned, res.OwnersScanned, res.SkippedForeign, res.SkippedUnstaged, res.Failures)
		return outcome{summary: res, failures: res.Failures}, nil
	})
}
