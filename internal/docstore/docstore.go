package docstore

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"talent/internal/config"
)

// DocumentStore is the durable home of uploaded CV blobs, decoupled from the
// import bookkeeping. Upload returns the addressable path stored on the file
// record; Download resolves it back to the blob.
type DocumentStore interface {
	Upload(ctx context.Context, sessionID, fileName string, body io.Reader) (string, error)
	Download(ctx context.Context, filePath string) (io.ReadCloser, error)
	Delete(ctx context.Context, filePath string) error
	Health() error
}

type s3Store struct {
	s3        *s3.Client
	bucket    string
	region    string
	keyPrefix string
}

func NewS3Store(cfg config.S3Config) (DocumentStore, error) {
	credProvider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credProvider),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg)

	return &s3Store{
		s3:        client,
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// Upload stores one CV blob under a session-scoped key and returns the key as
// the file_path recorded on the import file
func (s *s3Store) Upload(ctx context.Context, sessionID, fileName string, body io.Reader) (string, error) {
	key := path.Join(s.keyPrefix, sessionID, fileName)

	uploader := manager.NewUploader(s.s3)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to upload document")
		return "", fmt.Errorf("failed to upload document %s: %w", fileName, err)
	}

	log.Debug().Str("key", key).Str("bucket", s.bucket).Msg("Uploaded document")
	return key, nil
}

// Download resolves a file_path back to the stored blob
func (s *s3Store) Download(ctx context.Context, filePath string) (io.ReadCloser, error) {
	output, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(filePath),
	})
	if err != nil {
		log.Error().Err(err).Str("key", filePath).Msg("Failed to download document")
		return nil, fmt.Errorf("failed to download document %s: %w", filePath, err)
	}

	return output.Body, nil
}

// Delete removes a stored blob; used to back out uploads of a batch that
// never produced file records
func (s *s3Store) Delete(ctx context.Context, filePath string) error {
	_, err := s.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(filePath),
	})
	if err != nil {
		log.Error().Err(err).Str("key", filePath).Msg("Failed to delete document")
		return fmt.Errorf("failed to delete document %s: %w", filePath, err)
	}

	log.Debug().Str("key", filePath).Msg("Deleted document")
	return nil
}

// Health lists a single key to verify bucket reachability
func (s *s3Store) Health() error {
	_, err := s.s3.ListObjectsV2(context.TODO(), &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		log.Error().Err(err).Str("bucket", s.bucket).Msg("Document store health check failed")
	}

	return err
}
