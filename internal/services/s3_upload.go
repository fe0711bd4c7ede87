package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures the S3 upload target
type S3Options struct {
	Region    string
	Bucket    string
	KeyPrefix string
	AccessKey string
	SecretKey string
	Endpoint  string // S3-compatible storage; enables path-style addressing
}

// S3Uploader stores photos as objects in a bucket
type S3Uploader struct {
	s3Client  *s3.Client
	bucket    string
	keyPrefix string
	photos    PhotoSource
}

// NewS3Uploader creates a new S3 uploader
func NewS3Uploader(ctx context.Context, opts S3Options, photos PhotoSource) (*S3Uploader, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
	})

	return &S3Uploader{
		s3Client:  s3Client,
		bucket:    opts.Bucket,
		keyPrefix: opts.KeyPrefix,
		photos:    photos,
	}, nil
}

// Key returns the object key for a photo: {prefix}{filename}
func (u *S3Uploader) Key(photo Photo) string {
	return u.keyPrefix + photo.FileName
}

// Upload puts the photo into the bucket with content type image/jpeg
func (u *S3Uploader) Upload(ctx context.Context, photo Photo) error {
	rc, size, err := u.photos.Open(photo.Ref)
	if err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}
	defer rc.Close()

	_, err = u.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(u.Key(photo)),
		Body:          rc,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(ContentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}

	return nil
}
