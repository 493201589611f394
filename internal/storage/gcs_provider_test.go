// Package storage_test contains unit tests for the storage package against a
// fake GCS JSON API.
package storage_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gcs "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/courtdata/judgment-harvester/internal/storage"
)

const testBucket = "test-bucket"

// newTestGCSProvider creates a GCSProvider pointed at a test server.
func newTestGCSProvider(t *testing.T, handler http.Handler) *storage.GCSProvider {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gcs.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	return &storage.GCSProvider{Client: client, BucketName: testBucket}
}

func TestGCSPutObject(t *testing.T) {
	objectKey := "2020/01/abc123.pdf"
	objectData := []byte("%PDF-1.4 judgment body")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", testBucket))
		assert.Equal(t, objectKey, r.URL.Query().Get("name"))
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), string(objectData))
		assert.Contains(t, string(body), "application/pdf")

		fmt.Fprintln(w, `{ "name": "`+objectKey+`" }`)
	})

	provider := newTestGCSProvider(t, handler)
	uri, err := provider.PutObject(context.Background(), objectKey, "application/pdf", objectData)
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/"+objectKey, uri)
}

func TestGCSPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	provider := newTestGCSProvider(t, handler)

	_, err := provider.PutObject(context.Background(), "key", "application/pdf", []byte("data"))
	assert.Error(t, err)
}

func TestGCSPutObjectEmptyKey(t *testing.T) {
	provider := newTestGCSProvider(t, http.NotFoundHandler())
	_, err := provider.PutObject(context.Background(), "  ", "application/pdf", []byte("data"))
	assert.Error(t, err)
}

func TestGCSObjectExists(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "present.pdf") {
			fmt.Fprintln(w, `{ "name": "2020/01/present.pdf", "size": "2048" }`)
			return
		}
		http.Error(w, `{"error": {"code": 404, "message": "Not Found"}}`, http.StatusNotFound)
	})
	provider := newTestGCSProvider(t, handler)

	exists, size, err := provider.ObjectExists(context.Background(), "2020/01/present.pdf")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, int64(2048), size)

	exists, size, err = provider.ObjectExists(context.Background(), "2020/01/missing.pdf")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, size)
}

func TestGCSURI(t *testing.T) {
	provider := &storage.GCSProvider{BucketName: "judgments"}
	assert.Equal(t, "gs://judgments/2020/01/k.pdf", provider.URI("2020/01/k.pdf"))
}
