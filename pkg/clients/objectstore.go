package clients

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/sandboxfirst/uom/pkg/breaker"
)

// ObjectStoreOptions configures the s3:// bucket FileContext.StoragePath
// entries are resolved against.
type ObjectStoreOptions struct {
	Region, Endpoint             string
	AccessKeyID, AccessKeySecret string
}

// ObjectStoreClient fetches and writes files addressed by a StoragePath of
// the form s3://bucket/key, the same URL shape FileContext.StoragePath
// uses.
type ObjectStoreClient struct {
	s3      *s3.S3
	breaker *breaker.Service
}

func NewObjectStoreClient(opts ObjectStoreOptions, svc *breaker.Service) (*ObjectStoreClient, error) {
	cfg := aws.NewConfig().WithRegion(opts.Region)
	if opts.AccessKeyID != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(opts.AccessKeyID, opts.AccessKeySecret, ""))
	}
	if opts.Endpoint != "" {
		cfg = cfg.WithEndpoint(opts.Endpoint).WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}

	return &ObjectStoreClient{s3: s3.New(sess), breaker: svc}, nil
}

func parseStoragePath(storagePath string) (bucket, key string, err error) {
	u, err := url.Parse(storagePath)
	if err != nil {
		return "", "", fmt.Errorf("parsing storage path %q: %w", storagePath, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("storage path %q must use the s3:// scheme", storagePath)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// Fetch downloads the full contents addressed by storagePath.
func (c *ObjectStoreClient) Fetch(storagePath string) ([]byte, error) {
	bucket, key, err := parseStoragePath(storagePath)
	if err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (any, error) {
		out, err := c.s3.GetObject(&s3.GetObjectInput{Bucket: &bucket, Key: &key})
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", storagePath, err)
		}
		defer out.Body.Close()
		return io.ReadAll(out.Body)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Put uploads data to storagePath. No code in this module calls it.
func (c *ObjectStoreClient) Put(storagePath string, data []byte) error {
	bucket, key, err := parseStoragePath(storagePath)
	if err != nil {
		return err
	}

	_, err = c.breaker.Execute(func() (any, error) {
		_, err := c.s3.PutObject(&s3.PutObjectInput{
			Bucket: &bucket,
			Key:    &key,
			Body:   bytes.NewReader(data),
		})
		return nil, err
	})
	return err
}

// Presign returns a time-limited GET URL for storagePath. No code in this
// module calls it.
func (c *ObjectStoreClient) Presign(storagePath string, expiry time.Duration) (string, error) {
	bucket, key, err := parseStoragePath(storagePath)
	if err != nil {
		return "", err
	}

	req, _ := c.s3.GetObjectRequest(&s3.GetObjectInput{Bucket: &bucket, Key: &key})
	return req.Presign(expiry)
}
