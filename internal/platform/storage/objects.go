package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// ObjectStore writes and removes objects in a single Cloud Storage bucket.
type ObjectStore struct {
	client *gcs.Client
	bucket string
}

// NewObjectStore constructs an ObjectStore backed by the provided Cloud Storage client.
func NewObjectStore(client *gcs.Client, bucket string) (*ObjectStore, error) {
	if client == nil {
		return nil, errors.New("storage objects: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	return &ObjectStore{client: client, bucket: bucket}, nil
}

// Bucket returns the bucket name.
func (s *ObjectStore) Bucket() string { return s.bucket }

// Put uploads data to object, replacing any previous content.
func (s *ObjectStore) Put(ctx context.Context, object, contentType string, data []byte) error {
	if s == nil || s.client == nil {
		return errors.New("storage objects: client is not initialised")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return errInvalidObject
	}

	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "private, max-age=0"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage objects: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage objects: close %s: %w", object, err)
	}
	return nil
}

// Delete removes object. A missing object is not an error.
func (s *ObjectStore) Delete(ctx context.Context, object string) error {
	if s == nil || s.client == nil {
		return errors.New("storage objects: client is not initialised")
	}
	err := s.client.Bucket(s.bucket).Object(strings.TrimSpace(object)).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("storage objects: delete %s: %w", object, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *ObjectStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
