package storage

import (
	"context"
	"fmt"
	"io"
)

// ObjectRange represents an inclusive byte range for reads.
type ObjectRange struct {
	Start int64
	End   int64
}

func (br *ObjectRange) headerValue() *string {
	if br == nil {
		return nil
	}
	val := fmt.Sprintf("bytes=%d-%d", br.Start, br.End)
	return &val
}

// S3Client is the abstraction used to stage ranges, read raw pixel objects
// and publish finished containers.
type S3Client interface {
	UploadObject(ctx context.Context, key string, body []byte) error
	UploadStream(ctx context.Context, key string, body io.Reader, size int64) error
	DownloadObject(ctx context.Context, key string, rng *ObjectRange) ([]byte, error)
	ListObjects(ctx context.Context, prefix string) ([]S3Object, error)
	DeleteObject(ctx context.Context, key string) error
	EnsureBucket(ctx context.Context) error
}

// S3Object describes a stored object.
type S3Object struct {
	Key  string
	Size int64
}

// S3Config describes connection details for AWS S3 or compatible endpoints.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	KMSKeyARN       string
}
