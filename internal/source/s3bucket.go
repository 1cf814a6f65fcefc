package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tunnelmesh/chunkloader/internal/config"
	"github.com/tunnelmesh/chunkloader/pkg/bytesize"
)

// DefaultMaxObjectSize caps how much of a GET response body is read.
var DefaultMaxObjectSize = bytesize.MustParse(config.DefaultMaxObjectSize)

// awsRegionPattern matches AWS region names such as "us-east-1" or
// "us-gov-west-1". Custom endpoints accept any region string.
var awsRegionPattern = regexp.MustCompile(`^[a-z]{2}(-gov|-iso[a-z]?)?-[a-z]+-\d+$`)

// S3Option configures an S3Bucket.
type S3Option func(*S3Bucket)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) S3Option {
	return func(b *S3Bucket) {
		b.httpClient = client
	}
}

// WithMaxObjectSize overrides DefaultMaxObjectSize.
func WithMaxObjectSize(n int64) S3Option {
	return func(b *S3Bucket) {
		if n > 0 {
			b.maxObjectSize = n
		}
	}
}

// S3Bucket GETs chunk objects from an S3-compatible bucket over HTTP,
// signing requests with AWS Signature Version 4.
type S3Bucket struct {
	bucket        string
	region        string
	endpoint      *url.URL
	domainStyle   bool
	creds         Credentials
	httpClient    *http.Client
	maxObjectSize int64
	now           func() time.Time
}

// NewS3Bucket creates a bucket client for target. Without an explicit
// endpoint the region must be an AWS region name; the endpoint is then the
// regional AWS one.
func NewS3Bucket(target config.RemoteTarget, creds Credentials, opts ...S3Option) (*S3Bucket, error) {
	if target.ChunkBucket == "" {
		return nil, fmt.Errorf("%w: chunk_bucket is required", ErrConfiguration)
	}

	var endpoint *url.URL
	if target.Endpoint != "" {
		u, err := url.Parse(target.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse endpoint %q: %w", ErrConfiguration, target.Endpoint, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: endpoint %q must be an http(s) URL", ErrConfiguration, target.Endpoint)
		}
		endpoint = u
	} else {
		if !awsRegionPattern.MatchString(target.Region) {
			return nil, fmt.Errorf("%w: failed to parse S3 region %q", ErrConfiguration, target.Region)
		}
		endpoint = &url.URL{Scheme: "https", Host: "s3." + target.Region + ".amazonaws.com"}
	}

	region := target.Region
	if region == "" {
		region = "us-east-1"
	}

	b := &S3Bucket{
		bucket:        target.ChunkBucket,
		region:        region,
		endpoint:      endpoint,
		domainStyle:   target.DomainAddressing,
		creds:         creds,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		maxObjectSize: DefaultMaxObjectSize,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Name returns the bucket name.
func (b *S3Bucket) Name() string {
	return b.bucket
}

// ObjectURL returns the URL of object name, honouring the addressing style.
func (b *S3Bucket) ObjectURL(name string) *url.URL {
	u := *b.endpoint
	base := strings.TrimRight(u.Path, "/")
	if b.domainStyle {
		u.Host = b.bucket + "." + u.Host
		u.Path = base + "/" + name
	} else {
		u.Path = base + "/" + b.bucket + "/" + name
	}
	u.RawQuery = ""
	return &u
}

// GetObject implements Bucket.
func (b *S3Bucket) GetObject(ctx context.Context, name string) ([]byte, int, error) {
	u := b.ObjectURL(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: create request: %w", ErrRemoteRequest, err)
	}
	if err := signRequest(ctx, req, b.creds, b.region, b.now().UTC()); err != nil {
		return nil, 0, fmt.Errorf("%w: sign request: %w", ErrRemoteRequest, err)
	}
	req.Header.Set("amz-sdk-invocation-id", uuid.NewString())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("HTTP GET %s: %w", u.Redacted(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, b.maxObjectSize+1))
	if err != nil {
		return nil, 0, fmt.Errorf("read body of %s: %w", u.Redacted(), err)
	}
	if int64(len(body)) > b.maxObjectSize {
		return nil, resp.StatusCode, fmt.Errorf("%w: object %s exceeds %s", ErrRemoteRequest, name, bytesize.Format(b.maxObjectSize))
	}

	return body, resp.StatusCode, nil
}
