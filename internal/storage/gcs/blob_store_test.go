package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

const testBucket = "school-pages"

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: testBucket})
	require.NoError(t, err)
	return store
}

func TestBlobStore_PutObject(t *testing.T) {
	objectName := "pages/2024-01-01/abc.html"
	objectData := []byte("<html>Thomas Jefferson High School</html>")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", testBucket))
		assert.Equal(t, objectName, r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), string(objectData))
		assert.Contains(t, string(body), "text/html")

		fmt.Fprintln(w, `{"name": "`+objectName+`", "bucket": "`+testBucket+`"}`)
	})
	store := newTestStore(t, handler)

	uri, err := store.PutObject(context.Background(), objectName, "text/html; charset=utf-8", bytes.NewReader(objectData))
	require.NoError(t, err)
	assert.Equal(t, "gs://"+testBucket+"/"+objectName, uri)
}

func TestBlobStore_PutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := newTestStore(t, handler)

	_, err := store.PutObject(context.Background(), "pages/x.html", "text/html", strings.NewReader("data"))
	assert.Error(t, err)
}

func TestBlobStore_PutObjectEmptyPath(t *testing.T) {
	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), "  ", "text/html", strings.NewReader("data"))
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Config{Bucket: testBucket})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{})
	assert.Error(t, err)
}

func TestOpen_ChecksBucket(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/"+testBucket)
		fmt.Fprintln(w, `{"name": "`+testBucket+`"}`)
	}))
	defer ok.Close()

	store, err := Open(context.Background(), Config{Bucket: testBucket, Endpoint: ok.URL})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, `{"error": {"code": 404, "message": "bucket not found"}}`)
	}))
	defer missing.Close()

	_, err = Open(context.Background(), Config{Bucket: testBucket, Endpoint: missing.URL})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{})
	assert.Error(t, err)
}
