package maintenance

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archiver uploads archives to an S3 (or S3-compatible) bucket via the
// standard multipart uploader, the cold-storage counterpart to the
// teacher's R2 backup client.
type S3Archiver struct {
	uploader *manager.Uploader
	bucket   string
}

// NewS3Archiver loads credentials/region from the environment/default chain
// and wires an uploader for bucket. Returns an error if the default AWS
// config can't be resolved.
func NewS3Archiver(ctx context.Context, bucket string) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3Archiver{uploader: manager.NewUploader(client), bucket: bucket}, nil
}

// Upload satisfies Archiver.
func (a *S3Archiver) Upload(ctx context.Context, key string, body []byte) error {
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	return err
}
