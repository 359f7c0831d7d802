// Package archive uploads an already-encoded test record to a configured
// object-store URI, reusing the teacher's own bucket-provider URI scheme
// (cmn.S3Scheme/GSScheme/AZScheme, see cmn/bucket.go) to pick the SDK. The
// local .ktest file on disk is never touched by this package — only the
// outbound copy is (optionally) compressed, preserving the bit-exactness of
// ktest.Decode(ktest.Encode(r)) == r on disk.
package archive

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	gcs "cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pierrec/lz4/v3"
	"github.com/pkg/errors"

	"github.com/knsymex/knsymex/cmn"
	"github.com/knsymex/knsymex/knlog"
)

// ErrUnsupportedScheme is returned for a URI whose scheme matches none of
// the three wired backends.
var ErrUnsupportedScheme = errors.New("archive: unsupported object-store scheme")

// Uploader copies encoded record bytes to a remote object-store location.
type Uploader struct {
	// Compress gates the optional lz4 pass over the outbound copy.
	Compress bool
}

func NewUploader(compress bool) *Uploader { return &Uploader{Compress: compress} }

// Upload parses dstURI's scheme (s3://, gs://, az://) and dispatches to the
// matching SDK; payload is the already bit-exact encoded record.
func (u *Uploader) Upload(ctx context.Context, dstURI string, payload []byte) error {
	parsed, err := url.Parse(dstURI)
	if err != nil {
		return errors.Wrapf(err, "archive: bad destination URI %q", dstURI)
	}
	body := payload
	if u.Compress {
		body, err = compress(payload)
		if err != nil {
			return err
		}
	}
	switch parsed.Scheme {
	case cmn.S3Scheme:
		return u.uploadS3(ctx, parsed, body)
	case cmn.AZScheme:
		return u.uploadAzure(ctx, parsed, body)
	case cmn.GSScheme:
		return u.uploadGCS(ctx, parsed, body)
	default:
		return errors.Wrapf(ErrUnsupportedScheme, "scheme %q in %q", parsed.Scheme, dstURI)
	}
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, errors.Wrap(err, "archive: lz4 compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "archive: lz4 close")
	}
	return buf.Bytes(), nil
}

// splitBucketKey turns "s3://bucket/path/to/key" into ("bucket", "path/to/key").
func splitBucketKey(u *url.URL) (bucket, key string) {
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	return bucket, key
}

func (u *Uploader) uploadS3(ctx context.Context, dst *url.URL, body []byte) error {
	bucket, key := splitBucketKey(dst)
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return errors.Wrap(err, "archive: load aws config")
	}
	client := s3.NewFromConfig(cfg)
	uploader := manager.NewUploader(client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return errors.Wrap(err, "archive: s3 upload")
	}
	knlog.Infof("archive: uploaded %d bytes to s3://%s/%s", len(body), bucket, key)
	return nil
}

func (u *Uploader) uploadAzure(ctx context.Context, dst *url.URL, body []byte) error {
	container, key := splitBucketKey(dst)
	client, err := azblob.NewClientWithNoCredential(dst.Scheme+"://"+dst.Host, nil)
	if err != nil {
		return errors.Wrap(err, "archive: new azure blob client")
	}
	_, err = client.UploadBuffer(ctx, container, key, body, nil)
	if err != nil {
		return errors.Wrap(err, "archive: azure upload")
	}
	knlog.Infof("archive: uploaded %d bytes to az://%s/%s", len(body), container, key)
	return nil
}

func (u *Uploader) uploadGCS(ctx context.Context, dst *url.URL, body []byte) error {
	bucket, key := splitBucketKey(dst)
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return errors.Wrap(err, "archive: new gcs client")
	}
	defer client.Close()
	w := client.Bucket(bucket).Object(key).NewWriter(ctx)
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return errors.Wrap(err, "archive: gcs write")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "archive: gcs close")
	}
	knlog.Infof("archive: uploaded %d bytes to gs://%s/%s", len(body), bucket, key)
	return nil
}
