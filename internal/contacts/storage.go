package contacts

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Storage moves contact exports in and out of an S3-compatible bucket.
type Storage struct {
	client *minio.Client
	bucket string
}

func NewStorage(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &Storage{client: client, bucket: bucket}, nil
}

// Fetch downloads and parses a contact export object.
func (s *Storage) Fetch(ctx context.Context, object string) ([]Contact, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", object, err)
	}
	defer obj.Close()

	contacts, err := ReadCSV(obj)
	if err != nil {
		return nil, fmt.Errorf("parse object %s: %w", object, err)
	}
	return contacts, nil
}

// Put uploads a contact list as a CSV object.
func (s *Storage) Put(ctx context.Context, object string, contacts []Contact) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, contacts); err != nil {
		return fmt.Errorf("encode object %s: %w", object, err)
	}
	_, err := s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(buf.Bytes()), int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", object, err)
	}
	return nil
}

// PutRaw uploads arbitrary bytes, used for dedupe run reports.
func (s *Storage) PutRaw(ctx context.Context, object, contentType string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, object, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", object, err)
	}
	return nil
}
