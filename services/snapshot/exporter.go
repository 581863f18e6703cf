// Package snapshot renders the materialized views as one JSON document and
// exports it to object storage.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"merchant-voucher/services/projector"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// ObjectPutter is the part of *minio.Client the exporter uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Info struct {
	Bucket    string   `json:"bucket"`
	Key       string   `json:"key"`
	Size      int64    `json:"size"`
	ETag      string   `json:"etag"`
	Watermark Position `json:"watermark"`
}

type Exporter struct {
	projector *projector.Projector
	putter    ObjectPutter
	bucket    string
	prefix    string
	now       func() time.Time
}

func NewExporter(p *projector.Projector, putter ObjectPutter, bucket, prefix string) *Exporter {
	return &Exporter{
		projector: p,
		putter:    putter,
		bucket:    bucket,
		prefix:    prefix,
		now:       time.Now,
	}
}

// objectKey is {prefix}/{yyyy/mm/dd}/{block}-{logIndex}-{unix}.json
func (e *Exporter) objectKey(s Snapshot) string {
	name := fmt.Sprintf("%d-%d-%d.json", s.Watermark.Block, s.Watermark.LogIndex, s.TakenAt.Unix())
	return path.Join(e.prefix, s.TakenAt.Format("2006/01/02"), name)
}

func (e *Exporter) Export(ctx context.Context) (Info, error) {
	s := Take(e.projector, e.now())

	data, err := json.Marshal(s)
	if err != nil {
		return Info{}, fmt.Errorf("marshal snapshot: %w", err)
	}

	key := e.objectKey(s)
	upload, err := e.putter.PutObject(ctx, e.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"watermark-block":     fmt.Sprintf("%d", s.Watermark.Block),
			"watermark-log-index": fmt.Sprintf("%d", s.Watermark.LogIndex),
		},
	})
	if err != nil {
		return Info{}, fmt.Errorf("put %s/%s: %w", e.bucket, key, err)
	}

	zap.L().Info("snapshot exported",
		zap.String("bucket", e.bucket),
		zap.String("key", key),
		zap.Int("size", len(data)),
		zap.Uint64("watermark_block", s.Watermark.Block),
	)

	return Info{
		Bucket:    e.bucket,
		Key:       key,
		Size:      int64(len(data)),
		ETag:      upload.ETag,
		Watermark: s.Watermark,
	}, nil
}
