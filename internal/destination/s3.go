package destination

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kebairia/phoenix/internal/config"
	"github.com/kebairia/phoenix/internal/logger"
)

const s3PartSize = 16 * 1024 * 1024

// S3Destination replicates artifacts to an S3 bucket. Large artifacts go
// up in parts through the SDK upload manager.
type S3Destination struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	log        logger.Logger
}

var _ Destination = (*S3Destination)(nil)

// NewS3Destination builds the adapter from the shared AWS config chain
// (profile, env, instance role).
func NewS3Destination(ctx context.Context, cfg *config.S3Config, log logger.Logger) (*S3Destination, error) {
	options := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	profile := cfg.Profile
	if profile == "" {
		profile = os.Getenv("AWS_PROFILE")
	}
	if profile != "" {
		options = append(options, awsconfig.WithSharedConfigProfile(profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3Destination{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = s3PartSize
		}),
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) {
			d.PartSize = s3PartSize
		}),
		bucket: cfg.Bucket,
		log:    log,
	}, nil
}

func (d *S3Destination) Name() string { return "s3" }

func (d *S3Destination) Upload(ctx context.Context, localPath, remoteKey string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = d.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(remoteKey),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", d.bucket, remoteKey, err)
	}
	return nil
}

func (d *S3Destination) Download(ctx context.Context, remoteKey, localPath string) error {
	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = d.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(remoteKey),
	})
	if err != nil {
		os.Remove(localPath)
		return fmt.Errorf("get s3://%s/%s: %w", d.bucket, remoteKey, err)
	}
	return nil
}

func (d *S3Destination) List(ctx context.Context, prefix string) (map[string]int64, error) {
	objects := make(map[string]int64)
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", d.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			objects[aws.ToString(obj.Key)] = aws.ToInt64(obj.Size)
		}
	}
	return objects, nil
}
