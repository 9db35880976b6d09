package drive

import (
	"errors"
	"regexp"
)

// ErrNoFolderID means no folder ID could be extracted from a share URL.
var ErrNoFolderID = errors.New("drive: no folder ID in URL")

// Share URL shapes the portal accepts. Administrators paste whatever the
// Drive UI gave them; all three historical formats must keep working.
var folderIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/folders/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`id=([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`),
}

// ExtractFolderID pulls the folder ID out of a Drive share URL. A bare
// folder ID passes through unchanged.
func ExtractFolderID(shareURL string) (string, error) {
	for _, pattern := range folderIDPatterns {
		if m := pattern.FindStringSubmatch(shareURL); m != nil {
			return m[1], nil
		}
	}

	if bareID.MatchString(shareURL) {
		return shareURL, nil
	}

	return "", ErrNoFolderID
}

// bareID matches a raw Drive object ID (no URL around it).
var bareID = regexp.MustCompile(`^[a-zA-Z0-9_-]{10,}$`)

// FolderViewURL returns the browser URL for a folder.
func FolderViewURL(folderID string) string {
	return "https://drive.google.com/drive/folders/" + folderID
}

// FileViewURL returns the browser URL for a file.
func FileViewURL(fileID string) string {
	return "https://drive.google.com/file/d/" + fileID + "/view"
}

// FileDownloadURL returns the direct-download URL for a file.
func FileDownloadURL(fileID string) string {
	return "https://drive.google.com/uc?export=download&id=" + fileID
}
