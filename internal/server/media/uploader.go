// Package media hands locally staged files to the S3-compatible media host
// and returns their public URLs.
package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/filex"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/google/uuid"
)

// Uploader moves a local file to the media host.
//
// Upload always consumes the file: it is deleted whether the upload succeeds
// or not. An empty path yields common.ErrNoFile; any host failure wraps
// common.ErrUploadFailed.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

type S3Uploader struct {
	client  putObjectAPI
	bucket  string
	baseURL string
	logger  logging.Logger
	now     func() time.Time
}

// NewS3Uploader builds a path-style S3 client for cfg's endpoint. Static
// credentials are used so MinIO and AWS are configured the same way.
func NewS3Uploader(ctx context.Context, cfg *config.Config, logger logging.Logger) (*S3Uploader, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,
			cfg.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		}
		o.UsePathStyle = true
	})

	return newS3Uploader(client, cfg.S3Bucket, cfg.MediaBaseURL(), logger), nil
}

func newS3Uploader(client putObjectAPI, bucket, baseURL string, logger logging.Logger) *S3Uploader {
	return &S3Uploader{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("module", "media"),
		now:     time.Now,
	}
}

// storageKey places objects under users/<y>/<m>/<d>/ with a random name.
func (u *S3Uploader) storageKey(ext string) string {
	d := u.now()
	return fmt.Sprintf("users/%d/%d/%d/%v%s", d.Year(), d.Month(), d.Day(), uuid.New(), ext)
}

func (u *S3Uploader) Upload(ctx context.Context, localPath string) (url string, err error) {
	if localPath == "" {
		return "", common.ErrNoFile
	}

	defer func() {
		if rerr := filex.Remove(localPath); rerr != nil {
			u.logger.Warn(ctx, "staged file not removed", "path", localPath, "error", rerr)
		}
	}()

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrUploadFailed, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrUploadFailed, err)
	}

	ext := strings.ToLower(filepath.Ext(localPath))
	contentType, err := detectContentType(f, ext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrUploadFailed, err)
	}

	key := u.storageKey(ext)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		u.logger.Error(ctx, "upload failed", "key", key, "error", err)
		return "", fmt.Errorf("%w: %v", common.ErrUploadFailed, err)
	}

	u.logger.Debug(ctx, "uploaded", "key", key, "size", info.Size())
	return u.baseURL + "/" + u.bucket + "/" + key, nil
}

// detectContentType prefers the extension and falls back to sniffing the
// first bytes. The file offset is reset afterwards.
func detectContentType(f io.ReadSeeker, ext string) (string, error) {
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct, nil
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	return http.DetectContentType(head[:n]), nil
}
