package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const numS3MetadataRetries = 3

// S3Params configures the direct-to-bucket boundary client. Credentials are
// injected at startup; there are no embedded fallbacks.
type S3Params struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Client is a Client that maps the boundary contract onto S3 multipart
// uploads: a batch is a multipart upload, a chunk is a part, and finalize is
// CompleteMultipartUpload after verifying the part count.
type S3Client struct {
	client *s3.Client
	bucket string
	region string
	logger log.Logger
}

// NewS3Client creates a boundary client for the given bucket.
func NewS3Client(ctx context.Context, params S3Params, logger log.Logger) (*S3Client, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	cfg, err := loadAWSConfig(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return &S3Client{
		client: s3.NewFromConfig(*cfg),
		bucket: params.Bucket,
		region: params.Region,
		logger: logger,
	}, nil
}

// CreateBatch implements Client. The S3 multipart upload ID is the batch
// identifier.
func (c *S3Client) CreateBatch(ctx context.Context, info BatchInfo) (string, error) {
	resp, err := c.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(objectKey(info.Folder, info.TargetName)),
		ContentType: aws.String(info.ContentType),
	})
	if err != nil {
		return "", fmt.Errorf("create multipart upload: %w", classifyAWSError(err, false))
	}
	if resp.UploadId == nil || *resp.UploadId == "" {
		return "", fmt.Errorf("no upload ID in CreateMultipartUpload response")
	}
	return *resp.UploadId, nil
}

// UploadChunk implements Client. S3 part numbers are 1-based.
func (c *S3Client) UploadChunk(ctx context.Context, info ChunkInfo, body io.ReadSeeker) (string, error) {
	resp, err := c.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(objectKey(info.Folder, info.TargetName)),
		UploadId:      aws.String(info.BatchID),
		PartNumber:    aws.Int32(int32(info.Index + 1)),
		Body:          body,
		ContentLength: aws.Int64(info.Size),
	})
	if err != nil {
		return "", fmt.Errorf("upload part %d: %w", info.Index+1, classifyAWSError(err, false))
	}
	if resp.ETag == nil || *resp.ETag == "" {
		return "", fmt.Errorf("no ETag in UploadPart response")
	}
	return *resp.ETag, nil
}

// UploadWhole implements Client, using the SDK's upload manager.
func (c *S3Client) UploadWhole(ctx context.Context, info ObjectInfo, body io.ReadSeeker) (string, error) {
	uploader := manager.NewUploader(c.client)

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := objectKey(info.Folder, info.Name)
	resp, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(info.Size),
	})
	if err != nil {
		return "", fmt.Errorf("upload object: %w", classifyAWSError(err, false))
	}
	if resp.Location != "" {
		return resp.Location, nil
	}
	return c.objectURL(key), nil
}

// FinalizeBatch implements Client. It lists the uploaded parts first and
// refuses to assemble unless exactly TotalChunks parts are present.
func (c *S3Client) FinalizeBatch(ctx context.Context, info FinalizeInfo) (string, error) {
	key := objectKey(info.Folder, info.TargetName)

	parts, err := c.listPartsWithRetry(ctx, key, info.BatchID)
	if err != nil {
		return "", fmt.Errorf("list parts: %w", err)
	}
	if len(parts) != info.TotalChunks {
		c.logger.Warnf("Batch %s has %d parts, expected %d", info.BatchID, len(parts), info.TotalChunks)
		return "", ErrIncompleteBatch
	}

	completed := make([]types.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       part.ETag,
			PartNumber: part.PartNumber,
		})
	}
	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})

	resp, err := c.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(info.BatchID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return "", fmt.Errorf("complete multipart upload: %w", classifyAWSError(err, true))
	}
	if resp.Location != nil && *resp.Location != "" {
		return *resp.Location, nil
	}
	return c.objectURL(key), nil
}

func (c *S3Client) listPartsWithRetry(ctx context.Context, key, uploadID string) ([]types.Part, error) {
	var parts []types.Part
	err := retry.Times(numS3MetadataRetries).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		parts = parts[:0]
		var marker *string
		for {
			resp, err := c.client.ListParts(ctx, &s3.ListPartsInput{
				Bucket:           aws.String(c.bucket),
				Key:              aws.String(key),
				UploadId:         aws.String(uploadID),
				PartNumberMarker: marker,
			})
			if err != nil {
				err = classifyAWSError(err, true)
				return fmt.Errorf("list parts: %w", err), !IsRetryable(err)
			}
			parts = append(parts, resp.Parts...)
			if resp.IsTruncated == nil || !*resp.IsTruncated {
				return nil, true
			}
			marker = resp.NextPartNumberMarker
		}
	})
	return parts, err
}

func (c *S3Client) objectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.bucket, c.region, key)
}

// classifyAWSError maps S3 API error codes onto the boundary error kinds so
// the retry layer treats bucket rejections the same as HTTP API rejections.
func classifyAWSError(err error, finalize bool) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.ErrorMessage())
	case "EntityTooLarge":
		return fmt.Errorf("%w: %s", ErrPayloadTooLarge, apiErr.ErrorMessage())
	case "NoSuchUpload", "InvalidPart", "InvalidPartOrder":
		if finalize {
			return fmt.Errorf("%w: %s", ErrIncompleteBatch, apiErr.ErrorMessage())
		}
	}
	return err
}

func objectKey(folder, name string) string {
	if folder == "" {
		return name
	}
	return path.Join(folder, name)
}

func loadAWSConfig(ctx context.Context, params S3Params) (*aws.Config, error) {
	if params.Region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(params.Region),
	}
	if params.AccessKeyID != "" && params.SecretAccessKey != "" {
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(params.AccessKeyID, params.SecretAccessKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}
	return &cfg, nil
}
