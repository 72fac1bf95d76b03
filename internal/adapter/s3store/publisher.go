// Package s3store uploads extractor outputs to an S3 bucket.
package s3store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/couchcryptid/flir-etl-service/internal/observability"
)

// Publisher copies local output files to s3://bucket/prefix/<dataset>/<file>.
type Publisher struct {
	api     s3iface.S3API
	bucket  string
	prefix  string
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewS3API builds an S3 client for region using the default credential chain.
func NewS3API(region string) (s3iface.S3API, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return s3.New(sess), nil
}

// NewPublisher creates a Publisher for bucket. prefix may be empty.
func NewPublisher(api s3iface.S3API, bucket, prefix string, metrics *observability.Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{
		api:     api,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		metrics: metrics,
		logger:  logger,
	}
}

// Publish uploads each file and returns the resulting s3:// URIs in order.
// It stops at the first failure.
func (p *Publisher) Publish(ctx context.Context, datasetName string, paths []string) ([]string, error) {
	uris := make([]string, 0, len(paths))
	for _, local := range paths {
		uri, err := p.upload(ctx, datasetName, local)
		if err != nil {
			p.metrics.ArtifactUploads.WithLabelValues("error").Inc()
			return uris, err
		}
		p.metrics.ArtifactUploads.WithLabelValues("success").Inc()
		uris = append(uris, uri)
	}
	return uris, nil
}

func (p *Publisher) upload(ctx context.Context, datasetName, local string) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()

	key := p.objectKey(datasetName, filepath.Base(local))
	_, err = p.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Body:        f,
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType(local)),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", p.bucket, key, err)
	}
	p.logger.Debug("artifact uploaded", "bucket", p.bucket, "key", key)
	return fmt.Sprintf("s3://%s/%s", p.bucket, key), nil
}

func (p *Publisher) objectKey(datasetName, file string) string {
	if p.prefix == "" {
		return path.Join(datasetName, file)
	}
	return path.Join(p.prefix, datasetName, file)
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tif", ".tiff":
		return "image/tiff"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
