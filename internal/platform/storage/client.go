package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultSignedURLExpiry     = 5 * time.Minute
	maxDownloadSignedURLExpiry = 15 * time.Minute
)

var (
	errNoSigner      = errors.New("storage: signer is required")
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
	errExpiryTooLong = errors.New("storage: expiry exceeds permitted maximum")
)

// Client generates signed download URLs backed by a Signer.
type Client struct {
	signer Signer
	scheme storage.SigningScheme
	now    func() time.Time
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithSigningScheme overrides the signing scheme (defaults to V4).
func WithSigningScheme(scheme storage.SigningScheme) ClientOption {
	return func(c *Client) {
		if scheme != 0 {
			c.scheme = scheme
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient constructs a new storage signed URL client.
func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}

	client := &Client{
		signer: signer,
		scheme: storage.SigningSchemeV4,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// DownloadOptions control how the signed object is served.
type DownloadOptions struct {
	ExpiresIn    time.Duration
	FileName     string
	ResponseType string
}

// SignedURLResult describes the generated signed URL details.
type SignedURLResult struct {
	URL       string
	ExpiresAt time.Time
}

// SignedDownloadURL returns a GET URL for object valid for opts.ExpiresIn (capped at 15 minutes).
func (c *Client) SignedDownloadURL(ctx context.Context, bucket, object string, opts DownloadOptions) (SignedURLResult, error) {
	if c == nil {
		return SignedURLResult{}, errNoSigner
	}
	if ctx == nil {
		return SignedURLResult{}, errors.New("storage: context is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return SignedURLResult{}, errInvalidBucket
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return SignedURLResult{}, errInvalidObject
	}

	expiry := opts.ExpiresIn
	if expiry <= 0 {
		expiry = defaultSignedURLExpiry
	}
	if expiry > maxDownloadSignedURLExpiry {
		return SignedURLResult{}, errExpiryTooLong
	}

	query := url.Values{}
	if name := strings.TrimSpace(opts.FileName); name != "" {
		query.Set("response-content-disposition", fmt.Sprintf("inline; filename=%q", name))
	}
	if opts.ResponseType != "" {
		query.Set("response-content-type", opts.ResponseType)
	}

	expiresAt := c.now().Add(expiry)
	urlOpts := storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         c.scheme,
		Method:         "GET",
		Expires:        expiresAt,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	}
	if len(query) > 0 {
		urlOpts.QueryParameters = query
	}

	signedURL, err := storage.SignedURL(bucket, object, &urlOpts)
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return SignedURLResult{URL: signedURL, ExpiresAt: expiresAt}, nil
}
