package ckan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackageShow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/3/action/package_show", r.URL.Path)
		assert.Equal(t, "acordaos", r.URL.Query().Get("id"))
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")

		w.Write([]byte(`{
			"success": true,
			"result": {
				"id": "abc",
				"name": "acordaos",
				"title": "Acórdãos",
				"resources": [
					{"id": "r1", "name": "2024.json", "url": "http://x/2024.json", "format": "JSON"},
					{"id": "r2", "name": "2024.csv", "url": "http://x/2024.csv", "format": "CSV"}
				]
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	pkg, err := c.PackageShow(context.Background(), "acordaos")
	require.NoError(t, err)
	assert.Equal(t, "Acórdãos", pkg.Title)
	require.Len(t, pkg.Resources, 2)
	assert.Equal(t, "JSON", pkg.Resources[0].Format)
}

func TestPackageShowAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "error": {"message": "Not found"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.PackageShow(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not found")
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"processo": "REsp 1/SP"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	data, err := c.Download(context.Background(), srv.URL+"/file.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), "REsp 1/SP")
}

func TestDownloadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Download(context.Background(), srv.URL+"/file.json")
	assert.Error(t, err)
}
