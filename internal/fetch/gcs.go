package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSProvider reads files from a Google Cloud Storage bucket, optionally under a prefix.
type GCSProvider struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSProvider creates a storage client using Application Default Credentials,
// or the given credentials JSON when non-empty.
func NewGCSProvider(ctx context.Context, bucket, prefix, credentialsJSON string) (*GCSProvider, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("gcs bucket is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(credentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSProvider{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (p *GCSProvider) objectName(name string) (string, error) {
	cleaned, err := cleanPath(name)
	if err != nil {
		return "", err
	}
	return joinObject(p.prefix, cleaned), nil
}

func joinObject(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// Fetch downloads the object.
func (p *GCSProvider) Fetch(ctx context.Context, name string) ([]byte, error) {
	object, err := p.objectName(name)
	if err != nil {
		return nil, err
	}
	r, err := p.client.Bucket(p.bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", ErrNotFound, p.bucket, object)
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", p.bucket, object, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", p.bucket, object, err)
	}
	return data, nil
}

// Exists checks the object attributes.
func (p *GCSProvider) Exists(ctx context.Context, name string) (bool, error) {
	object, err := p.objectName(name)
	if err != nil {
		return false, err
	}
	_, err = p.client.Bucket(p.bucket).Object(object).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat gs://%s/%s: %w", p.bucket, object, err)
	}
	return true, nil
}

// Close releases the storage client.
func (p *GCSProvider) Close() error {
	return p.client.Close()
}
