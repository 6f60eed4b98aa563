// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/petrusv/nc-s3-backup/internal/funchelpers"
	"github.com/petrusv/nc-s3-backup/internal/iohelpers"
)

// S3Client adapts an AWS SDK v2 S3 client to the Client interface. It is
// grounded on the aws-sdk-go-v2 family already pulled in by the pack for
// S3-backed storage tooling; HeadObject backs both Exists and ETag, and
// GetObject is streamed straight to disk so large-object downloads never
// hold the full body in memory.
type S3Client struct {
	API    *s3.Client
	Bucket string
}

// NewS3Client wraps an already-configured *s3.Client for the given bucket.
func NewS3Client(api *s3.Client, bucket string) *S3Client {
	return &S3Client{API: api, Bucket: bucket}
}

// Exists reports whether key is present in the bucket via HeadObject.
func (c *S3Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.API.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("objectstore: head %s: %w", key, err)
}

// ETag returns the object's entity tag, with any surrounding quotes
// stripped (S3 returns ETags as a quoted string).
func (c *S3Client) ETag(ctx context.Context, key string) (string, error) {
	out, err := c.API.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("objectstore: head %s: %w", key, err)
	}
	return strings.Trim(aws.ToString(out.ETag), `"`), nil
}

// Download streams key's content to destPath, creating it if necessary. The
// response body is wrapped in a iohelpers.CountingReader so a failed or
// truncated transfer can be reported with how much of the object actually
// made it to disk.
func (c *S3Client) Download(ctx context.Context, key, destPath string) (Err error) {
	out, err := c.API.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("objectstore: get %s: %w", key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("objectstore: create %s: %w", destPath, err)
	}
	defer funchelpers.VerifyClose(&Err, f)

	counted := iohelpers.CountReader(out.Body)
	if _, err := io.Copy(f, counted); err != nil {
		return fmt.Errorf("objectstore: download %s to %s (%d bytes transferred): %w", key, destPath, counted.BytesRead(), err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
