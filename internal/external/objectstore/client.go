// Package objectstore содержит клиент S3-совместимого хранилища (AWS S3, Cloudflare R2).
package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"codequiz/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config параметры хранилища
type Config struct {
	Endpoint     string
	Bucket       string
	AccessKey    string
	Secret       string
	PublicDomain string
	Region       string
}

// API подмножество методов s3.Client, используемое клиентом
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Коды ошибок, при которых загрузка повторяется без ACL
var aclRejectedCodes = map[string]bool{
	"AccessControlListNotSupported": true,
	"NotImplemented":                true,
	"InvalidRequest":                true,
	"AccessDenied":                  true,
	"InvalidArgument":               true,
}

// Client клиент объектного хранилища
type Client struct {
	api    API
	cfg    Config
	logger *zap.Logger
}

// New создает клиент поверх aws-sdk-go-v2. Встроенные повторы SDK отключены.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, model.Errorf(model.KindConfigurationMissing, "objectstore", "bucket is not configured")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.Secret, "")),
		awsconfig.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Info("Object store client created",
		zap.String("bucket", cfg.Bucket),
		zap.String("endpoint", cfg.Endpoint),
		zap.String("region", region))

	return NewWithAPI(api, cfg, logger), nil
}

// NewWithAPI создает клиент с заданной реализацией API
func NewWithAPI(api API, cfg Config, logger *zap.Logger) *Client {
	return &Client{api: api, cfg: cfg, logger: logger}
}

// ImageKey возвращает адресуемый по содержимому ключ PNG
func ImageKey(png []byte) string {
	sum := sha256.Sum256(png)
	return "code-images/" + hex.EncodeToString(sum[:])[:32] + ".png"
}

// VideoKey возвращает ключ видео для перевода задачи
func VideoKey(group uuid.UUID, taskID int64, lang string) string {
	return fmt.Sprintf("videos/%s/%d_%s.mp4", group, taskID, lang)
}

// PutImage сохраняет PNG и возвращает публичный URL
func (c *Client) PutImage(ctx context.Context, data []byte, key string) (string, error) {
	if err := c.put(ctx, key, "image/png", func() io.ReadSeeker { return bytes.NewReader(data) }, int64(len(data))); err != nil {
		return "", err
	}
	return c.PublicURL(key), nil
}

// PutVideo сохраняет видеофайл и возвращает публичный URL
func (c *Client) PutVideo(ctx context.Context, path, key string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", model.NewError(model.KindStorageFailed, "put video", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", model.NewError(model.KindStorageFailed, "put video", err)
	}

	body := func() io.ReadSeeker {
		_, _ = f.Seek(0, io.SeekStart)
		return f
	}
	if err := c.put(ctx, key, "video/mp4", body, info.Size()); err != nil {
		return "", err
	}
	return c.PublicURL(key), nil
}

func (c *Client) put(ctx context.Context, key, contentType string, body func() io.ReadSeeker, size int64) error {
	input := func(acl bool) *s3.PutObjectInput {
		in := &s3.PutObjectInput{
			Bucket:        aws.String(c.cfg.Bucket),
			Key:           aws.String(key),
			Body:          body(),
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(size),
		}
		if acl {
			in.ACL = types.ObjectCannedACLPublicRead
		}
		return in
	}

	_, err := c.api.PutObject(ctx, input(true))
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && aclRejectedCodes[apiErr.ErrorCode()] {
			c.logger.Debug("Bucket rejected ACL, retrying without it",
				zap.String("key", key),
				zap.String("code", apiErr.ErrorCode()))
			_, err = c.api.PutObject(ctx, input(false))
		}
	}
	if err != nil {
		return classify("put object", err)
	}

	c.logger.Info("Object uploaded", zap.String("key", key), zap.Int64("size", size))
	return nil
}

// Delete удаляет объект по публичному URL
func (c *Client) Delete(ctx context.Context, rawURL string) (bool, error) {
	key, ok := c.ExtractKey(rawURL)
	if !ok {
		c.logger.Warn("Cannot extract object key from url", zap.String("url", rawURL))
		return false, nil
	}

	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, classify("delete object", err)
	}

	c.logger.Info("Object deleted", zap.String("key", key))
	return true, nil
}

// PublicURL строит публичный URL ключа
func (c *Client) PublicURL(key string) string {
	if c.cfg.PublicDomain != "" {
		domain := strings.TrimRight(c.cfg.PublicDomain, "/")
		if !strings.Contains(domain, "://") {
			domain = "https://" + domain
		}
		return domain + "/" + key
	}
	if c.cfg.Endpoint != "" {
		return strings.TrimRight(c.cfg.Endpoint, "/") + "/" + c.cfg.Bucket + "/" + key
	}
	region := c.cfg.Region
	if region == "" || region == "auto" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.cfg.Bucket, region, key)
}

// ExtractKey извлекает ключ объекта из URL
func (c *Client) ExtractKey(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "", false
	}
	path := strings.TrimPrefix(u.Path, "/")

	switch {
	case c.cfg.PublicDomain != "" && u.Host == hostOf(c.cfg.PublicDomain):
	case strings.HasPrefix(u.Host, c.cfg.Bucket+"."):
		// virtual-hosted стиль
	case strings.HasPrefix(path, c.cfg.Bucket+"/"):
		path = strings.TrimPrefix(path, c.cfg.Bucket+"/")
	default:
		return "", false
	}

	if path == "" {
		return "", false
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}
	return path, true
}

func hostOf(domain string) string {
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	u, err := url.Parse(domain)
	if err != nil {
		return domain
	}
	return u.Host
}

func classify(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &model.Error{Kind: model.KindStorageFailed, Op: op, Code: apiErr.ErrorCode(), Err: err}
	}
	return model.NewError(model.KindStorageUnavailable, op, err)
}
