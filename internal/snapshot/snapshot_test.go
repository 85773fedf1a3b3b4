package snapshot

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/sdbrowser/pkg/models"
	"github.com/fruitsalade/sdbrowser/pkg/retry"
)

const listing = `{"SD":{"a.txt":{"type":"file","size":10,"lastModified":"t"},"docs":{}}}`

var observed = time.Date(2025, 3, 4, 5, 6, 7, 890_000_000, time.FixedZone("CET", 3600))

func mustTree(t *testing.T) *models.Tree {
	t.Helper()
	tr, err := models.Parse([]byte(listing))
	require.NoError(t, err)
	return tr
}

func TestKey(t *testing.T) {
	assert.Equal(t, "listing-20250304T040607.890Z.json", Key("", observed))
	assert.Equal(t, "sd/cards/listing-20250304T040607.890Z.json", Key("sd/cards", observed))
}

func TestFileStorePut(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	p, err := store.Put(context.Background(), observed, mustTree(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "listing-20250304T040607.890Z.json"), p)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.JSONEq(t, listing, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(context.Background(), dir, Options{})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	_, err = Open(context.Background(), "s3:///prefix", Options{})
	assert.ErrorContains(t, err, "missing bucket")

	_, err = Open(context.Background(), "", Options{})
	assert.Error(t, err)
}

func TestOpenS3(t *testing.T) {
	store, err := Open(context.Background(), "s3://listings/sd/card1/", Options{
		Region:    "eu-west-1",
		Endpoint:  "http://127.0.0.1:9000",
		PathStyle: true,
	})
	require.NoError(t, err)

	s3s, ok := store.(*S3Store)
	require.True(t, ok)
	assert.Equal(t, "listings", s3s.bucket)
	assert.Equal(t, "sd/card1", s3s.prefix)
}

type fakeS3 struct {
	failures int
	calls    int
	bucket   string
	key      string
	body     []byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("503 slow down")
	}
	f.bucket, f.key = *in.Bucket, *in.Key
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestS3StorePutRetries(t *testing.T) {
	fake := &fakeS3{failures: 2}
	store := newS3Store(fake, "listings", "sd")
	store.retry = retry.Config{MaxAttempts: 3, InitialWait: time.Millisecond, Multiplier: 1}

	uri, err := store.Put(context.Background(), observed, mustTree(t))
	require.NoError(t, err)

	assert.Equal(t, 3, fake.calls)
	assert.Equal(t, "listings", fake.bucket)
	assert.Equal(t, "sd/listing-20250304T040607.890Z.json", fake.key)
	assert.Equal(t, "s3://listings/sd/listing-20250304T040607.890Z.json", uri)
	assert.JSONEq(t, listing, string(fake.body))
}

func TestS3StorePutGivesUp(t *testing.T) {
	fake := &fakeS3{failures: 10}
	store := newS3Store(fake, "listings", "")
	store.retry = retry.Config{MaxAttempts: 2, InitialWait: time.Millisecond, Multiplier: 1}

	_, err := store.Put(context.Background(), observed, mustTree(t))
	assert.ErrorContains(t, err, "503 slow down")
	assert.Equal(t, 2, fake.calls)
}
