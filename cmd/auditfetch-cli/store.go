package main

import (
	"context"
	"log/slog"

	"auditfetch/internal/adapters/localstorage"
	"auditfetch/internal/adapters/s3storage"
	"auditfetch/internal/config"
	"auditfetch/internal/core/ports"
)

// storeOpener selects the blob store by destination: s3:// URIs go to the
// bucket, everything else is a local directory.
func storeOpener(s3cfg config.S3, log *slog.Logger) ports.StoreOpener {
	return func(ctx context.Context, destination string) (ports.BlobStore, error) {
		if !s3storage.IsURI(destination) {
			return localstorage.NewLocalStorage(destination), nil
		}
		bucket, prefix, err := s3storage.ParseURI(destination)
		if err != nil {
			return nil, err
		}
		return s3storage.New(ctx, s3storage.Config{
			Bucket:          bucket,
			Prefix:          prefix,
			Endpoint:        s3cfg.Endpoint,
			Region:          s3cfg.Region,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		}, log)
	}
}
