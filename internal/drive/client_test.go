package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *Client {
	return NewClient(serverURL, serverURL, http.DefaultClient, nil)
}

func TestListChildrenPaginates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t, "'folder-1' in parents and trashed=false", q.Get("q"))
		assert.Equal(t, "name", q.Get("orderBy"))

		if q.Get("pageToken") == "" {
			fmt.Fprint(w, `{"files":[{"id":"f1","name":"a.pdf","mimeType":"application/pdf","size":"1024","modifiedTime":"2026-01-15T10:00:00Z"}],"nextPageToken":"page-2"}`)
			return
		}

		assert.Equal(t, "page-2", q.Get("pageToken"))
		fmt.Fprint(w, `{"files":[{"id":"f2","name":"b","mimeType":"application/vnd.google-apps.folder"}]}`)
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	items, err := c.ListChildren(context.Background(), "token-1", "folder-1")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "f1", items[0].ID)
	assert.Equal(t, int64(1024), items[0].Size)
	assert.False(t, items[0].IsFolder)
	assert.Equal(t, 2026, items[0].ModifiedAt.Year())

	assert.Equal(t, "f2", items[1].ID)
	assert.True(t, items[1].IsFolder)
}

func TestErrorClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "missing"):
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"message":"File not found"}}`)
		case strings.Contains(r.URL.Path, "denied"):
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":{"message":"The user does not have sufficient permissions"}}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"Backend error"}}`)
		}
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	ctx := context.Background()

	_, err := c.GetFile(ctx, "token", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "File not found", de.Message)

	_, err = c.GetFile(ctx, "token", "denied")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = c.GetFile(ctx, "token", "broken")
	assert.ErrorIs(t, err, ErrServerError)
}

func TestInsufficientScopeDetection(t *testing.T) {
	scoped := &Error{StatusCode: http.StatusForbidden, Message: "Request had insufficient authentication scopes."}
	assert.True(t, scoped.InsufficientScope())

	plainForbidden := &Error{StatusCode: http.StatusForbidden, Message: "The user does not have sufficient permissions"}
	assert.False(t, plainForbidden.InsufficientScope())

	unauthorized := &Error{StatusCode: http.StatusUnauthorized, Message: "insufficient authentication scopes"}
	assert.False(t, unauthorized.InsufficientScope())
}

func TestCreateFolderNormalizesName(t *testing.T) {
	var gotBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, readErr := io.ReadAll(r.Body)
		require.NoError(t, readErr)
		gotBody = string(body)

		fmt.Fprint(w, `{"id":"new-folder","name":"Précis","mimeType":"application/vnd.google-apps.folder"}`)
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	// "e" followed by combining acute accent (NFD) must be sent as NFC.
	item, err := c.CreateFolder(context.Background(), "token", "parent-1", "Précis")
	require.NoError(t, err)
	assert.True(t, item.IsFolder)
	assert.Contains(t, gotBody, "Précis")
	assert.Contains(t, gotBody, folderMimeType)
}

func TestUploadMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
		assert.Contains(t, r.Header.Get("Content-Type"), "multipart/related")

		fmt.Fprint(w, `{"id":"up1","name":"notes.txt","mimeType":"text/plain","size":"11"}`)
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	item, err := c.Upload(context.Background(), "token", "parent-1", "notes.txt", "text/plain", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "up1", item.ID)
	assert.Equal(t, int64(11), item.Size)
}

func TestDeleteDrainsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	assert.NoError(t, c.Delete(context.Background(), "token", "f1"))
}
