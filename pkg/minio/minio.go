package minio

import (
	"context"
	"fmt"

	"merchant-voucher/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("minio.client", fx.Provide(registerClient))

// registerClient connects and makes sure the configured bucket exists.
func registerClient(c *config.Config) (*minio.Client, error) {
	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, c.Minio.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", c.Minio.BucketName, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, c.Minio.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", c.Minio.BucketName, err)
		}
	}

	zap.L().Info("MinIO client initialized",
		zap.String("endpoint", c.Minio.Endpoint),
		zap.String("bucket", c.Minio.BucketName),
		zap.Bool("created", !exists),
	)
	return client, nil
}
