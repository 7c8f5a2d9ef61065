package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"mailbench/models"
)

// ObjectAPI is the subset of the S3 client the fetcher needs
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Fetcher reads raw emails stored by SES receipt rules
type Fetcher struct {
	client ObjectAPI
}

// NewFetcher creates a fetcher backed by an S3 client built from cfg
func NewFetcher(cfg aws.Config) *Fetcher {
	return &Fetcher{client: s3.NewFromConfig(cfg)}
}

// NewFetcherWithClient creates a fetcher around an existing client
func NewFetcherWithClient(client ObjectAPI) *Fetcher {
	return &Fetcher{client: client}
}

// DecodeKey undoes the form encoding SES applies to object keys in receipts:
// '+' becomes a space, then percent escapes are decoded.
func DecodeKey(key string) (string, error) {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return "", fmt.Errorf("invalid object key %q: %w", key, err)
	}
	return decoded, nil
}

// Fetch returns the content of bucket/key as text. An object without a body
// yields an empty string.
func (f *Fetcher) Fetch(ctx context.Context, bucket, key string) (string, error) {
	startTime := time.Now()

	decodedKey, err := DecodeKey(key)
	if err != nil {
		return "", err
	}

	log.Debug().Str("bucket", bucket).Str("key", decodedKey).Msg("Fetching object")

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(decodedKey),
	})
	if err != nil {
		log.Error().Err(err).Str("bucket", bucket).Str("key", decodedKey).Msg("Failed to fetch object")
		return "", fmt.Errorf("failed to fetch s3://%s/%s: %w", bucket, decodedKey, err)
	}
	if out.Body == nil {
		return "", nil
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		log.Error().Err(err).Str("bucket", bucket).Str("key", decodedKey).Msg("Failed to read object body")
		return "", fmt.Errorf("failed to read s3://%s/%s: %w", bucket, decodedKey, err)
	}

	log.Info().
		Str("bucket", bucket).
		Str("key", decodedKey).
		Int("bytes", len(content)).
		Dur("download_time", time.Since(startTime)).
		Msg("Object downloaded")

	return string(content), nil
}

// List returns the objects in bucket whose keys start with prefix, following
// continuation tokens until the listing is exhausted.
func (f *Fetcher) List(ctx context.Context, bucket, prefix string) ([]models.ObjectInfo, error) {
	objects := make([]models.ObjectInfo, 0)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}

	for {
		page, err := f.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, err)
		}

		for _, obj := range page.Contents {
			objects = append(objects, models.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         aws.ToString(obj.ETag),
			})
		}

		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = page.NextContinuationToken
	}

	return objects, nil
}
