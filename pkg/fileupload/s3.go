package fileupload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Receiver stores uploads as objects in an S3 bucket. The object key is
// prefix + process-unique suffix; the original file name and upload time
// are kept as object metadata.
//
// PutObject needs a seekable or fully buffered body, so the upload is
// buffered in memory before the call. Keep MaxFileSize configured on the
// handler when using this receiver.
type S3Receiver struct {
	client  *s3.Client
	bucket  string
	prefix  string
	timeout time.Duration
}

// NewS3Receiver creates a receiver that writes uploads to the given bucket
// under the given key prefix (e.g. "uploads/").
func NewS3Receiver(client *s3.Client, bucket, prefix string) *S3Receiver {
	return &S3Receiver{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		timeout: 60 * time.Second,
	}
}

// WithTimeout sets the per-upload PutObject timeout.
func (s *S3Receiver) WithTimeout(d time.Duration) *S3Receiver {
	s.timeout = d
	return s
}

// Receive buffers the upload and stores it as an S3 object. The returned
// location is the object key.
func (s *S3Receiver) Receive(r io.Reader, details FileDetails) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("fileupload: buffer upload for s3: %w", err)
	}

	key := s.prefix + newToken()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
		Metadata: map[string]string{
			"original-filename": details.FileName,
			"upload-time":       time.Now().UTC().Format(time.RFC3339),
		},
	}
	if details.ContentType != "" {
		input.ContentType = aws.String(details.ContentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("fileupload: s3 upload failed: %w", err)
	}
	return key, nil
}
