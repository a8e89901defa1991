// Package storage provides the object store uploader for downloaded
// granule archives.
package storage

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader streams granule archives into the upload bucket.
type Uploader interface {
	// Upload writes body to the bucket under key, declaring the expected
	// MD5 (hex) so the store rejects corrupted payloads. It returns the
	// object location as "<bucket>/<key>".
	Upload(ctx context.Context, key string, body io.Reader, size int64, md5Hex string) (string, error)
}

// S3API is the subset of the S3 client used by this package.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader implements Uploader over an S3 bucket.
type S3Uploader struct {
	client S3API
	bucket string
}

// NewS3Uploader creates an uploader for the given bucket.
func NewS3Uploader(client S3API, bucket string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket}
}

// Upload puts the object with a client-declared Content-MD5. S3 verifies
// the digest server-side and fails the request on mismatch, so a corrupt
// transfer never becomes a stored object.
func (u *S3Uploader) Upload(ctx context.Context, key string, body io.Reader, size int64, md5Hex string) (string, error) {
	contentMD5, err := EncodeMD5(md5Hex)
	if err != nil {
		return "", err
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentMD5:    aws.String(contentMD5),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return u.bucket + "/" + key, nil
}

// EncodeMD5 converts the hex MD5 the catalog declares into the
// base64-encoded form the object store expects in Content-MD5.
func EncodeMD5(md5Hex string) (string, error) {
	raw, err := hex.DecodeString(md5Hex)
	if err != nil {
		return "", fmt.Errorf("invalid MD5 checksum %q: %w", md5Hex, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Compile-time check.
var _ Uploader = (*S3Uploader)(nil)
