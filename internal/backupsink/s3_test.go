package backupsink

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/require"
)

func setupFakeS3(t *testing.T) (*httptest.Server, S3Config) {
	t.Helper()
	backend := s3mem.New()
	fs := gofakes3.New(backend)
	server := httptest.NewServer(fs.Server())
	t.Cleanup(server.Close)

	bucket := "dbfront-backup-test"
	require.NoError(t, backend.CreateBucket(bucket))

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	return server, S3Config{
		Endpoint:       strings.TrimPrefix(server.URL, "http://"),
		Region:         "us-east-1",
		Bucket:         bucket,
		Insecure:       true,
		ForcePathStyle: true,
	}
}

func TestS3SinkUploadRoundTrip(t *testing.T) {
	_, cfg := setupFakeS3(t)
	sink, err := NewS3Sink(cfg)
	require.NoError(t, err)
	defer sink.Close()

	body := strings.NewReader("snapshot contents")
	n, err := sink.Upload(context.Background(), "snapshot-1.bin", body, int64(body.Len()))
	require.NoError(t, err)
	require.Equal(t, int64(len("snapshot contents")), n)
}

func TestS3SinkUploadWithPrefix(t *testing.T) {
	_, cfg := setupFakeS3(t)
	cfg.Prefix = "/backups/"
	sink, err := NewS3Sink(cfg)
	require.NoError(t, err)
	defer sink.Close()
	require.Equal(t, "backups/snapshot-2.bin", sink.objectKey("snapshot-2.bin"))

	body := strings.NewReader("x")
	_, err = sink.Upload(context.Background(), "snapshot-2.bin", body, 1)
	require.NoError(t, err)
}

func TestNewS3SinkRequiresBucket(t *testing.T) {
	_, err := NewS3Sink(S3Config{})
	require.Error(t, err)
}
