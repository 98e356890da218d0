//go:build gcp

package archive

import "context"

func openGCS(ctx context.Context, opts Options) (Store, error) {
	return NewGCSStore(ctx, GCSStoreConfig{Bucket: opts.Bucket, Prefix: opts.Prefix})
}
