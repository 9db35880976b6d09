package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// folderMimeType marks folders in the Drive API.
const folderMimeType = "application/vnd.google-apps.folder"

// listPageSize is the pageSize value for list requests (Drive API max 1000;
// 200 keeps response sizes moderate).
const listPageSize = 200

// fileFields is the field projection requested on every file response.
const fileFields = "id,name,mimeType,size,modifiedTime,webViewLink,webContentLink,thumbnailLink,parents"

// Item is a normalized Drive file or folder.
type Item struct {
	ID            string
	Name          string
	MimeType      string
	Size          int64
	ModifiedAt    time.Time
	IsFolder      bool
	WebViewLink   string
	ThumbnailLink string
	Parents       []string
}

// fileResponse mirrors the Drive API file resource JSON. Size arrives as a
// decimal string.
type fileResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	MimeType       string   `json:"mimeType"`
	Size           string   `json:"size"`
	ModifiedTime   string   `json:"modifiedTime"`
	WebViewLink    string   `json:"webViewLink"`
	WebContentLink string   `json:"webContentLink"`
	ThumbnailLink  string   `json:"thumbnailLink"`
	Parents        []string `json:"parents"`
}

type listResponse struct {
	Files         []fileResponse `json:"files"`
	NextPageToken string         `json:"nextPageToken"`
}

// toItem normalizes a Drive API file resource.
func (f *fileResponse) toItem(logger *slog.Logger) Item {
	item := Item{
		ID:            f.ID,
		Name:          f.Name,
		MimeType:      f.MimeType,
		IsFolder:      f.MimeType == folderMimeType,
		WebViewLink:   f.WebViewLink,
		ThumbnailLink: f.ThumbnailLink,
		Parents:       f.Parents,
	}

	if f.Size != "" {
		size, err := strconv.ParseInt(f.Size, 10, 64)
		if err != nil {
			logger.Warn("invalid size in file resource",
				slog.String("file_id", f.ID),
				slog.String("raw", f.Size),
			)
		} else {
			item.Size = size
		}
	}

	if f.ModifiedTime != "" {
		t, err := time.Parse(time.RFC3339, f.ModifiedTime)
		if err != nil {
			logger.Warn("invalid modifiedTime in file resource",
				slog.String("file_id", f.ID),
				slog.String("raw", f.ModifiedTime),
			)

			t = time.Now().UTC()
		}

		item.ModifiedAt = t
	}

	return item
}

// nfcName normalizes a file name to NFC before transmission. Drive stores
// names as given; mixed normalization forms make the same visible name
// compare unequal.
func nfcName(name string) string {
	return norm.NFC.String(name)
}

// ListChildren returns all non-trashed children of a folder, handling
// pagination automatically. Results are ordered by name.
func (c *Client) ListChildren(ctx context.Context, token, folderID string) ([]Item, error) {
	c.logger.Info("listing folder", slog.String("folder_id", folderID))

	var items []Item

	pageToken := ""

	for {
		q := url.Values{
			"q":        {fmt.Sprintf("'%s' in parents and trashed=false", folderID)},
			"fields":   {fmt.Sprintf("nextPageToken,files(%s)", fileFields)},
			"orderBy":  {"name"},
			"pageSize": {strconv.Itoa(listPageSize)},
		}

		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/files?"+q.Encode(), token, "", nil)
		if err != nil {
			return nil, err
		}

		var lr listResponse

		decodeErr := json.NewDecoder(resp.Body).Decode(&lr)
		resp.Body.Close()

		if decodeErr != nil {
			return nil, fmt.Errorf("drive: decoding list response: %w", decodeErr)
		}

		for i := range lr.Files {
			items = append(items, lr.Files[i].toItem(c.logger))
		}

		if lr.NextPageToken == "" {
			break
		}

		pageToken = lr.NextPageToken
	}

	c.logger.Info("listed folder",
		slog.String("folder_id", folderID),
		slog.Int("total_items", len(items)),
	)

	return items, nil
}

// GetFile retrieves a single file's metadata.
func (c *Client) GetFile(ctx context.Context, token, fileID string) (*Item, error) {
	u := fmt.Sprintf("%s/files/%s?fields=%s", c.baseURL, url.PathEscape(fileID), url.QueryEscape(fileFields))

	resp, err := c.do(ctx, http.MethodGet, u, token, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fr fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("drive: decoding file response: %w", err)
	}

	item := fr.toItem(c.logger)

	return &item, nil
}

// CreateFolder creates a folder under the given parent.
func (c *Client) CreateFolder(ctx context.Context, token, parentID, name string) (*Item, error) {
	c.logger.Info("creating folder",
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	reqBody := map[string]any{
		"name":     nfcName(name),
		"mimeType": folderMimeType,
		"parents":  []string{parentID},
	}

	return c.postFileMetadata(ctx, token, http.MethodPost, c.baseURL+"/files?fields="+url.QueryEscape(fileFields), reqBody)
}

// Rename changes a file or folder name.
func (c *Client) Rename(ctx context.Context, token, fileID, newName string) (*Item, error) {
	c.logger.Info("renaming item",
		slog.String("file_id", fileID),
		slog.String("new_name", newName),
	)

	u := fmt.Sprintf("%s/files/%s?fields=%s", c.baseURL, url.PathEscape(fileID), url.QueryEscape(fileFields))

	return c.postFileMetadata(ctx, token, http.MethodPatch, u, map[string]any{"name": nfcName(newName)})
}

// postFileMetadata sends a JSON metadata body and decodes the file resource
// response. Shared by CreateFolder and Rename.
func (c *Client) postFileMetadata(ctx context.Context, token, method, fullURL string, body map[string]any) (*Item, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("drive: marshaling metadata request: %w", err)
	}

	resp, err := c.do(ctx, method, fullURL, token, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fr fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("drive: decoding metadata response: %w", err)
	}

	item := fr.toItem(c.logger)

	return &item, nil
}

// Delete removes a file or folder. Folder deletion is recursive on the
// provider side.
func (c *Client) Delete(ctx context.Context, token, fileID string) error {
	c.logger.Info("deleting item", slog.String("file_id", fileID))

	resp, err := c.do(ctx, http.MethodDelete, c.baseURL+"/files/"+url.PathEscape(fileID), token, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 204 No Content — drain to reuse the connection.
	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("drive: draining delete response: %w", copyErr)
	}

	return nil
}

// Upload uploads file content under the given parent using a multipart
// related request (metadata part + media part).
func (c *Client) Upload(ctx context.Context, token, parentID, name, mimeType string, content io.Reader) (*Item, error) {
	c.logger.Info("uploading file",
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")

	metaPart, err := mw.CreatePart(metaHeader)
	if err != nil {
		return nil, fmt.Errorf("drive: creating metadata part: %w", err)
	}

	meta := map[string]any{
		"name":    nfcName(name),
		"parents": []string{parentID},
	}
	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return nil, fmt.Errorf("drive: encoding metadata part: %w", err)
	}

	mediaHeader := textproto.MIMEHeader{}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	mediaHeader.Set("Content-Type", mimeType)

	mediaPart, err := mw.CreatePart(mediaHeader)
	if err != nil {
		return nil, fmt.Errorf("drive: creating media part: %w", err)
	}

	if _, err := io.Copy(mediaPart, content); err != nil {
		return nil, fmt.Errorf("drive: writing media part: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("drive: finalizing multipart body: %w", err)
	}

	u := c.uploadURL + "/files?uploadType=multipart&fields=" + url.QueryEscape(fileFields)
	contentType := "multipart/related; boundary=" + mw.Boundary()

	resp, err := c.do(ctx, http.MethodPost, u, token, contentType, &buf)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fr fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("drive: decoding upload response: %w", err)
	}

	item := fr.toItem(c.logger)

	return &item, nil
}

// Download streams file content. The caller must close the returned reader.
func (c *Client) Download(ctx context.Context, token, fileID string) (io.ReadCloser, error) {
	c.logger.Info("downloading file", slog.String("file_id", fileID))

	u := fmt.Sprintf("%s/files/%s?alt=media", c.baseURL, url.PathEscape(fileID))

	resp, err := c.do(ctx, http.MethodGet, u, token, "", nil)
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}
