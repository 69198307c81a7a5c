// Package blob opens the rule-run report archive selected by configuration.
package blob

import (
	"context"
	"fmt"

	"tariffcore/internal/blob/core"
	"tariffcore/internal/config"
	"tariffcore/internal/infra/blob/fs"
	"tariffcore/internal/infra/blob/memory"
	"tariffcore/internal/infra/blob/s3"
)

// Open returns the archive for cfg. S3 credentials come from the default AWS
// chain (AWS_ACCESS_KEY_ID, shared config, instance roles).
func Open(ctx context.Context, cfg config.Blob) (core.Store, error) {
	switch core.Driver(cfg.Driver) {
	case core.DriverMemory, "":
		return memory.New(), nil
	case core.DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case core.DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
