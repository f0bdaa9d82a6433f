package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PublicBase string
	PresignTTL time.Duration
}

// UploadInput is a local file on its way to the bucket.
type UploadInput struct {
	ChatID      string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Object describes a stored blob.
type Object struct {
	URL      string
	PublicID string
	Bytes    int64
	Width    int
	Height   int
	Format   string
}

type Client struct {
	cfg     S3Config
	s3      *s3.Client
	presign *s3.PresignClient
}

func NewClient(ctx context.Context, cfg S3Config) (*Client, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			if parsed, err := url.Parse(cfg.Endpoint); err == nil {
				o.BaseEndpoint = aws.String(parsed.String())
			}
			o.UsePathStyle = true
		}
	})

	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	cfg.PublicBase = strings.TrimRight(cfg.PublicBase, "/")

	return &Client{
		cfg:     cfg,
		s3:      s3Client,
		presign: s3.NewPresignClient(s3Client),
	}, nil
}

// Upload stores the file under chat/<chatID>/<random><ext>. Image dimensions
// are read from the header when the format is known.
func (c *Client) Upload(ctx context.Context, in UploadInput) (Object, error) {
	if c == nil {
		return Object{}, errors.New("s3 client not initialized")
	}
	if in.Body == nil {
		return Object{}, errors.New("upload body is required")
	}

	body, err := seekable(in.Body)
	if err != nil {
		return Object{}, fmt.Errorf("failed to buffer upload: %w", err)
	}
	size, err := body.Seek(0, io.SeekEnd)
	if err != nil {
		return Object{}, err
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return Object{}, err
	}

	obj := Object{Bytes: size, Format: strings.TrimPrefix(strings.ToLower(path.Ext(in.FileName)), ".")}
	if strings.HasPrefix(in.ContentType, "image/") {
		if cfg, format, err := image.DecodeConfig(body); err == nil {
			obj.Width, obj.Height, obj.Format = cfg.Width, cfg.Height, format
		}
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return Object{}, err
		}
	}

	key := path.Join("chat", in.ChatID, uuid.NewString()+strings.ToLower(path.Ext(in.FileName)))
	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(in.ContentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return Object{}, err
	}

	obj.PublicID = key
	obj.URL = c.FileURL(key)
	return obj, nil
}

// Delete removes the object. Deleting a missing key succeeds.
func (c *Client) Delete(ctx context.Context, publicID string) error {
	if c == nil {
		return errors.New("s3 client not initialized")
	}
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(publicID),
	})
	return err
}

// Open streams the object body. The caller closes it.
func (c *Client) Open(ctx context.Context, publicID string) (io.ReadCloser, error) {
	if c == nil {
		return nil, errors.New("s3 client not initialized")
	}
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(publicID),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// RedirectURL returns a URL the caller can fetch the object from directly.
func (c *Client) RedirectURL(ctx context.Context, publicID string) (string, error) {
	if u := c.FileURL(publicID); u != "" {
		return u, nil
	}
	presigned, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(publicID),
	}, func(po *s3.PresignOptions) {
		po.Expires = c.cfg.PresignTTL
	})
	if err != nil {
		return "", err
	}
	return presigned.URL, nil
}

func (c *Client) FileURL(key string) string {
	if c == nil || key == "" {
		return ""
	}
	if c.cfg.PublicBase != "" {
		return c.cfg.PublicBase + "/" + key
	}
	return "s3://" + c.cfg.Bucket + "/" + key
}

func seekable(r io.Reader) (io.ReadSeeker, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}
