package archive

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Backend names an archive implementation.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// Options selects and configures the archive for analytics batches. Dir is
// used by the filesystem backend; Bucket, Region, Endpoint and Prefix by
// the object stores.
type Options struct {
	Backend  Backend `validate:"oneof=fs s3 gcs"`
	Dir      string  `validate:"required_if=Backend fs"`
	Bucket   string  `validate:"required_unless=Backend fs"`
	Region   string
	Endpoint string `validate:"omitempty,url"` // MinIO, LocalStack
	Prefix   string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Open creates the archive described by opts. An empty Backend means fs.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.Backend == "" {
		opts.Backend = BackendFS
	}
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("archive options: %w", err)
	}

	switch opts.Backend {
	case BackendS3:
		region := opts.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   opts.Bucket,
			Region:   region,
			Endpoint: opts.Endpoint,
			Prefix:   opts.Prefix,
		})
	case BackendGCS:
		return openGCS(ctx, opts)
	default:
		return NewFileStore(opts.Dir)
	}
}
