package archive

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"testing"

	"github.com/pierrec/lz4/v3"
	"github.com/pkg/errors"
)

func TestUploadRejectsUnsupportedScheme(t *testing.T) {
	u := NewUploader(false)
	err := u.Upload(context.Background(), "ftp://host/path", []byte("x"))
	if errors.Cause(err) != ErrUnsupportedScheme {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
}

func TestCompressRoundTripsThroughLZ4(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, for compressibility")
	out, err := compress(payload)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty compressed output")
	}
	back, err := io.ReadAll(lz4.NewReader(bytes.NewReader(out)))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(back, payload) {
		t.Fatalf("expected decompressed output to equal the payload, got %q", back)
	}
}

func TestSplitBucketKey(t *testing.T) {
	u, err := url.Parse("s3://my-bucket/a/b/c.ktest")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	bucket, key := splitBucketKey(u)
	if bucket != "my-bucket" || key != "a/b/c.ktest" {
		t.Fatalf("expected (my-bucket, a/b/c.ktest), got (%s, %s)", bucket, key)
	}
}
