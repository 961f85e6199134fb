package s3

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/objectfs/objectftp/internal/objectstore"
)

// Options configures the S3 backend.
type Options struct {
	// Endpoint is the base URL of an S3-compatible service. Empty selects AWS.
	Endpoint     string
	Region       string
	UsePathStyle bool
	MaxRetries   int
	// PartSize is the multipart chunk size of the uploader; 0 uses the SDK default.
	PartSize int64
	Logger   *slog.Logger
}

// Backend authenticates access keys against an S3 service. Each FTP user is an
// access key id and the password its secret key; buckets appear as containers.
type Backend struct {
	opts   Options
	logger *slog.Logger
}

var _ objectstore.Backend = (*Backend)(nil)

// NewBackend creates an S3 backend.
func NewBackend(opts Options) *Backend {
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		opts:   opts,
		logger: logger.With("component", "s3", "region", opts.Region),
	}
}

func (b *Backend) Name() string { return "s3" }

// AuthEndpoint returns the configured endpoint, or the regional AWS endpoint.
func (b *Backend) AuthEndpoint() string {
	if b.opts.Endpoint != "" {
		return strings.TrimRight(b.opts.Endpoint, "/")
	}
	return fmt.Sprintf("https://s3.%s.amazonaws.com", b.opts.Region)
}

// Authenticate proves the key pair by listing the account's buckets. S3 signs
// every request, so the returned token only identifies the key.
func (b *Backend) Authenticate(ctx context.Context, user, secret string) (objectstore.Credentials, error) {
	client, err := b.newClient(ctx, user, secret)
	if err != nil {
		return objectstore.Credentials{}, err
	}
	if _, err := client.ListBuckets(ctx, &s3.ListBucketsInput{}); err != nil {
		b.logger.Debug("authentication failed", "user", user, "error", err)
		return objectstore.Credentials{}, translateError(err, "authenticate", user)
	}
	return objectstore.Credentials{
		Endpoint: b.AuthEndpoint(),
		Token:    user,
	}, nil
}

// Connect builds a client for the key pair.
func (b *Backend) Connect(ctx context.Context, user, secret string, creds objectstore.Credentials) (objectstore.Store, error) {
	client, err := b.newClient(ctx, user, secret)
	if err != nil {
		return nil, err
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if b.opts.PartSize > 0 {
			u.PartSize = b.opts.PartSize
		}
	})
	return &Store{
		client:   client,
		uploader: uploader,
		logger:   b.logger.With("user", user),
	}, nil
}

func (b *Backend) newClient(ctx context.Context, user, secret string) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(b.opts.Region),
		config.WithRetryMaxAttempts(b.opts.MaxRetries),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(user, secret, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if b.opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(b.opts.Endpoint)
		}
		o.UsePathStyle = b.opts.UsePathStyle
		// S3-compatible services commonly reject the newer streaming checksums.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	}), nil
}
