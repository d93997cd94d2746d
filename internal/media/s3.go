package media

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gebre-tech/backend/internal/domain"
)

type S3Uploader struct {
	client     *s3.Client
	uploader   *manager.Uploader
	bucket     string
	region     string
	publicRead bool
}

func NewS3Uploader(ctx context.Context, region, bucket string, publicRead bool) (*S3Uploader, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg)
	return &S3Uploader{
		client:     client,
		uploader:   manager.NewUploader(client),
		bucket:     bucket,
		region:     region,
		publicRead: publicRead,
	}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, key, contentType string, data []byte) (*domain.Attachment, error) {
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 upload: %w", err)
	}

	link := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, url.PathEscape(key))
	if !u.publicRead {
		link, err = u.presign(ctx, key, 24*time.Hour)
		if err != nil {
			return nil, err
		}
	}
	return &domain.Attachment{
		Name: path.Base(key),
		Type: contentType,
		Size: int64(len(data)),
		URL:  link,
	}, nil
}

func (u *S3Uploader) presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	p := s3.NewPresignClient(u.client)
	req, err := p.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("s3 presign: %w", err)
	}
	return req.URL, nil
}
