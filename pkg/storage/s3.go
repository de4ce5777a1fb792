package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// ResourceType is the kind of object stored, which selects content type defaults.
type ResourceType string

const (
	ResourceVideo ResourceType = "video"
	ResourceImage ResourceType = "image"
)

// Content types by extension for uploaded media.
var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".m4v":  "video/x-m4v",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// UploadOptions places an object: key = Folder/PublicID + source file extension.
type UploadOptions struct {
	ResourceType ResourceType
	Folder       string
	PublicID     string
}

// UploadResult identifies a stored object. PublicID is the full object key and is what Destroy takes.
type UploadResult struct {
	SecureURL string
	PublicID  string
	Bytes     int64
}

// S3Config holds S3 client configuration.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicBaseURL   string // e.g. CDN origin; empty uses the bucket's virtual-hosted URL
}

// S3 uploads and deletes media objects.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or .env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using credentials from .env/config", zap.String("region", cfg.Region), zap.String("bucket", cfg.Bucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024 // 5MB parts for streaming
	})
	return &S3{
		client:   client,
		uploader: uploader,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// ObjectKey returns folder/publicID+ext.
func ObjectKey(folder, publicID, ext string) string {
	return path.Join(folder, publicID+strings.ToLower(ext))
}

// ContentTypeFor returns the MIME type for a file name, falling back on the resource type.
func ContentTypeFor(filename string, rt ResourceType) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	switch rt {
	case ResourceVideo:
		return "video/mp4"
	case ResourceImage:
		return "image/jpeg"
	}
	return "application/octet-stream"
}

// PublicObjectURL returns the public URL for key.
func (s *S3) PublicObjectURL(key string) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}

// UploadFile streams the file at localPath to the media bucket.
func (s *S3) UploadFile(ctx context.Context, localPath string, opts UploadOptions) (*UploadResult, error) {
	if opts.PublicID == "" {
		return nil, errors.New("upload: public id is required")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}

	key := ObjectKey(opts.Folder, opts.PublicID, filepath.Ext(localPath))
	size := info.Size()
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentType:   aws.String(ContentTypeFor(localPath, opts.ResourceType)),
		ContentLength: aws.Int64(size),
		ACL:           types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Info("object uploaded", zap.String("key", key), zap.String("resource_type", string(opts.ResourceType)), zap.Int64("bytes", size))
	return &UploadResult{SecureURL: s.PublicObjectURL(key), PublicID: key, Bytes: size}, nil
}

// Destroy deletes the object with the given public id (object key).
func (s *S3) Destroy(ctx context.Context, publicID string, rt ResourceType) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(publicID),
	})
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", rt, publicID, err)
	}
	s.logger.Info("object deleted", zap.String("key", publicID), zap.String("resource_type", string(rt)))
	return nil
}
