// Package presign builds invocation params for objects in an S3 bucket:
// a presigned GET for the source and presigned PUTs for every rendition.
package presign

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/purplecabbage/asset-compute-sdk/internal/config"
	"github.com/purplecabbage/asset-compute-sdk/internal/worker/processor"
)

// signer is the part of *minio.Client used here.
type signer interface {
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	PresignedPutObject(ctx context.Context, bucketName, objectName string, expires time.Duration) (*url.URL, error)
}

type Presigner struct {
	client signer
	bucket string
	expiry time.Duration
}

func New(cfg config.S3Config) (*Presigner, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Presigner{client: client, bucket: bucket, expiry: expiry}, nil
}

// Rendition asks for one output object.
type Rendition struct {
	Key  string
	Fmt  string
	Name string
	// Parts above 1 presigns that many part objects for a multipart target.
	Parts    int
	Pipeline bool
}

type Request struct {
	SourceKey  string
	Renditions []Rendition
	Flags      processor.Flags
}

// Params presigns every object named by req.
func (p *Presigner) Params(ctx context.Context, req Request) (*processor.Params, error) {
	if strings.TrimSpace(req.SourceKey) == "" {
		return nil, fmt.Errorf("source key is required")
	}
	if len(req.Renditions) == 0 {
		return nil, fmt.Errorf("at least one rendition is required")
	}

	src, err := p.client.PresignedGetObject(ctx, p.bucket, objectKey(req.SourceKey), p.expiry, nil)
	if err != nil {
		return nil, fmt.Errorf("presign source %s: %w", req.SourceKey, err)
	}

	out := &processor.Params{
		Source: processor.SourceDescriptor{URL: src.String(), Name: path.Base(objectKey(req.SourceKey))},
		Flags:  req.Flags,
	}
	for _, r := range req.Renditions {
		target, err := p.target(ctx, r)
		if err != nil {
			return nil, err
		}
		out.Renditions = append(out.Renditions, processor.RenditionDescriptor{
			Name:     r.Name,
			Fmt:      r.Fmt,
			Target:   target,
			Pipeline: r.Pipeline,
		})
	}
	return out, nil
}

func (p *Presigner) target(ctx context.Context, r Rendition) (processor.Target, error) {
	key := objectKey(r.Key)
	if key == "" {
		return processor.Target{}, fmt.Errorf("rendition key is required")
	}

	if r.Parts <= 1 {
		u, err := p.client.PresignedPutObject(ctx, p.bucket, key, p.expiry)
		if err != nil {
			return processor.Target{}, fmt.Errorf("presign rendition %s: %w", key, err)
		}
		return processor.Target{URL: u.String()}, nil
	}

	parts := make([]string, r.Parts)
	for i := range parts {
		partKey := PartKey(key, i)
		u, err := p.client.PresignedPutObject(ctx, p.bucket, partKey, p.expiry)
		if err != nil {
			return processor.Target{}, fmt.Errorf("presign rendition part %s: %w", partKey, err)
		}
		parts[i] = u.String()
	}
	return processor.Target{Parts: parts}, nil
}

// PartKey names part i of a multipart rendition.
func PartKey(key string, i int) string {
	return fmt.Sprintf("%s.part%04d", key, i+1)
}

func objectKey(key string) string {
	return strings.TrimLeft(strings.TrimSpace(key), "/")
}
