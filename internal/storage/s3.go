// Package storage archives query traces in an S3 compatible bucket.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/mirojs/graphrag-orchestration-sub001/internal/util"
	"github.com/mirojs/graphrag-orchestration-sub001/pkg/query"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var (
	ErrTraceNotFound   = errors.New("trace not found")
	ErrInvalidTraceKey = errors.New("invalid trace key")
)

const tracePrefix = "traces"

// ObjectClient is the part of *s3.Client the archive uses.
type ObjectClient interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

func NewS3Client(ctx context.Context) (*s3.Client, error) {
	region := util.GetEnv("AWS_REGION")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	}
	if endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// TraceArchive stores query trace snapshots as JSON under
// traces/<tenant>/<trace id>.json.
type TraceArchive struct {
	client ObjectClient
	bucket string
}

func NewTraceArchive(client ObjectClient, bucket string) *TraceArchive {
	return &TraceArchive{client: client, bucket: bucket}
}

// TraceKey returns the object key of a trace. Tenant and trace ids must be
// single path segments.
func TraceKey(tenantID, traceID string) (string, error) {
	if !validSegment(tenantID) || !validSegment(traceID) {
		return "", ErrInvalidTraceKey
	}
	return path.Join(tracePrefix, tenantID, traceID+".json"), nil
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "/\\")
}

func (a *TraceArchive) PutTrace(ctx context.Context, tenantID string, snap query.QueryTraceSnapshot) error {
	key, err := TraceKey(tenantID, snap.ID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload trace to S3: %w", err)
	}
	return nil
}

func (a *TraceArchive) GetTrace(ctx context.Context, tenantID, traceID string) (*query.QueryTraceSnapshot, error) {
	key, err := TraceKey(tenantID, traceID)
	if err != nil {
		return nil, err
	}
	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, ErrTraceNotFound
		}
		return nil, fmt.Errorf("failed to get trace from S3: %w", err)
	}
	defer result.Body.Close()

	raw, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}
	var snap query.QueryTraceSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode trace: %w", err)
	}
	return &snap, nil
}

// ListTraceIDs returns the ids of all archived traces of a tenant.
func (a *TraceArchive) ListTraceIDs(ctx context.Context, tenantID string) ([]string, error) {
	if !validSegment(tenantID) {
		return nil, ErrInvalidTraceKey
	}
	prefix := path.Join(tracePrefix, tenantID) + "/"
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	}

	var ids []string
	for {
		out, err := a.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list traces with prefix %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			id := strings.TrimSuffix(strings.TrimPrefix(*obj.Key, prefix), ".json")
			if id != "" {
				ids = append(ids, id)
			}
		}
		if out.IsTruncated != nil && *out.IsTruncated {
			listInput.ContinuationToken = out.NextContinuationToken
		} else {
			break
		}
	}
	return ids, nil
}
