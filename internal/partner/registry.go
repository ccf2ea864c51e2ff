// Package partner registers bucket bindings in the catalog and resolves them
// back into usable object store clients.
package partner

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"github.com/arencloud/snapkeeper/internal/catalog"
	"github.com/arencloud/snapkeeper/internal/logging"
	"github.com/arencloud/snapkeeper/internal/models"
	"github.com/arencloud/snapkeeper/internal/objectstore"
)

var (
	Error = errs.Class("partner")
	// ErrInvalid is returned for registration input that cannot describe a bucket.
	ErrInvalid = errs.Class("partner: invalid")
	// ErrUnknown is returned when no partner has the requested id.
	ErrUnknown = errs.Class("partner: unknown")
)

// Params is the registration input.
type Params struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	Bucket      string
	Provider    string
	Region      string
	ChunkSize   int64
	CertFile    string
	Archive     bool
	DeepStorage bool
}

func (p Params) validate() error {
	var missing []string
	if strings.TrimSpace(p.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	if strings.TrimSpace(p.Bucket) == "" {
		missing = append(missing, "bucket")
	}
	if p.AccessKey == "" {
		missing = append(missing, "access key")
	}
	if p.SecretKey == "" {
		missing = append(missing, "secret key")
	}
	if len(missing) > 0 {
		return ErrInvalid.New("missing %s", strings.Join(missing, ", "))
	}
	switch strings.ToLower(p.Provider) {
	case "", models.ProviderSP, models.ProviderCOS, models.ProviderAWS, models.ProviderGeneric, models.ProviderMinio:
	case models.ProviderAzure:
		return ErrInvalid.New("provider %q has no S3 compatible client", p.Provider)
	default:
		return ErrInvalid.New("provider %q", p.Provider)
	}
	if p.ChunkSize < 0 {
		return ErrInvalid.New("chunk size %d", p.ChunkSize)
	}
	return nil
}

type Registry struct {
	repo   catalog.Repository
	sealer *Sealer
	log    logging.Logger
}

func NewRegistry(repo catalog.Repository, sealer *Sealer, log logging.Logger) *Registry {
	return &Registry{repo: repo, sealer: sealer, log: log}
}

// Register stores the partner for (endpoint, bucket, archive), reusing the
// existing ID when one is already registered. The returned partner carries the
// plaintext secret.
func (r *Registry) Register(ctx context.Context, in Params) (*models.Partner, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	provider := strings.ToLower(in.Provider)
	if provider == "" {
		provider = models.ProviderGeneric
	}

	p, err := r.repo.FindPartner(ctx, in.Endpoint, in.Bucket, in.Archive)
	switch {
	case err == nil:
		r.log.Info("partner already registered", "partner", p.ID, "endpoint", in.Endpoint, "bucket", in.Bucket)
	case catalog.ErrNotFound.Has(err):
		p = &models.Partner{ID: uuid.NewString(), Endpoint: in.Endpoint, Bucket: in.Bucket, Archive: in.Archive}
		r.log.Info("registering partner", "partner", p.ID, "endpoint", in.Endpoint, "bucket", in.Bucket, "archive", in.Archive)
	default:
		return nil, Error.Wrap(err)
	}

	p.AccessKey = in.AccessKey
	p.Provider = provider
	p.Region = in.Region
	p.ChunkSize = in.ChunkSize
	p.CertFile = in.CertFile
	p.DeepStorage = in.DeepStorage

	sealed, err := r.sealer.Seal(in.SecretKey)
	if err != nil {
		return nil, err
	}
	p.SecretKey = sealed
	if err := r.repo.SavePartner(ctx, p); err != nil {
		return nil, Error.Wrap(err)
	}
	p.SecretKey = in.SecretKey
	return p, nil
}

// Resolve loads a registered partner with its secret unsealed.
func (r *Registry) Resolve(ctx context.Context, id string) (*models.Partner, error) {
	p, err := r.repo.GetPartner(ctx, id)
	if catalog.ErrNotFound.Has(err) {
		return nil, ErrUnknown.New("%s", id)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if p.SecretKey, err = r.sealer.Open(p.SecretKey); err != nil {
		return nil, err
	}
	return p, nil
}

// Client builds the object store client for a resolved partner.
func (r *Registry) Client(p *models.Partner) (objectstore.Client, error) {
	c, err := objectstore.New(p)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return c, nil
}
