package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tender requirements text"))
	}))
	defer srv.Close()

	d := NewDownloader(5, 1<<20)
	doc, err := d.Download(context.Background(), srv.URL+"/docs/requirements.txt")

	require.NoError(t, err)
	assert.Equal(t, "requirements.txt", doc.Filename)
	assert.Equal(t, []byte("tender requirements text"), doc.Data)
}

func TestDownloadRejectsUnsupportedExtension(t *testing.T) {
	d := NewDownloader(5, 1<<20)
	_, err := d.Download(context.Background(), "http://example.com/malware.exe")
	assert.ErrorIs(t, err, ErrUnsupportedExtension)
}

func TestDownloadRejectsBadScheme(t *testing.T) {
	d := NewDownloader(5, 1<<20)
	_, err := d.Download(context.Background(), "ftp://example.com/file.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme")
}

func TestDownloadRejectsMissingFilename(t *testing.T) {
	d := NewDownloader(5, 1<<20)
	_, err := d.Download(context.Background(), "http://example.com/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no file path")
}

func TestDownloadDeclaredSizeTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2048")
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	d := NewDownloader(5, 1024)
	_, err := d.Download(context.Background(), srv.URL+"/big.pdf")
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestDownloadStreamedSizeTooLarge(t *testing.T) {
	// chunked response carries no Content-Length, so only the streamed
	// cap can catch it
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			w.Write(make([]byte, 512))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	d := NewDownloader(5, 1024)
	_, err := d.Download(context.Background(), srv.URL+"/big.pdf")
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestDownloadRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := NewDownloader(5, 1<<20)
	doc, err := d.Download(context.Background(), srv.URL+"/doc.txt")

	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, "ok", string(doc.Data))
}

func TestDownloadDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDownloader(5, 1<<20)
	_, err := d.Download(context.Background(), srv.URL+"/missing.txt")

	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownloadAllFailsBatchOnSingleError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.txt") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("content"))
	}))
	defer srv.Close()

	d := NewDownloader(5, 1<<20)
	_, err := d.DownloadAll(context.Background(), []string{
		srv.URL + "/a.txt",
		srv.URL + "/missing.txt",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.txt")
}

func TestFilenameFromURL(t *testing.T) {
	name, err := filenameFromURL("https://host/path/offer.edoc?sig=abc")
	require.NoError(t, err)
	assert.Equal(t, "offer.edoc", name)
}
