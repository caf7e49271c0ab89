// Package archive stores copies of exported reports in object storage so
// downloads can be re-fetched later without regenerating them.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader archives exported reports in a MinIO bucket. A nil *Uploader is
// valid and archives nothing, so callers never branch on configuration.
type Uploader struct {
	client *minio.Client
	bucket string
}

// New connects to MinIO and ensures the export bucket exists. Returns an
// error when the endpoint is unreachable; the caller decides whether that is
// fatal.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Uploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to minio: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		log.Printf("archive: created bucket %s", bucket)
	}

	return &Uploader{client: client, bucket: bucket}, nil
}

// Store uploads an export under a timestamped key. Failures are logged and
// swallowed: archiving must never fail the download that produced it.
func (u *Uploader) Store(filename, mimeType string, data []byte) {
	if u == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		key := fmt.Sprintf("%s/%s", time.Now().UTC().Format("2006-01-02"), filename)
		_, err := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: mimeType,
		})
		if err != nil {
			log.Printf("archive: store %s: %v", key, err)
			return
		}
		log.Printf("archive: stored %s (%d bytes)", key, len(data))
	}()
}
