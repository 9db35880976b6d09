package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/curriculumvault/vaultdrive/internal/drive"
	"github.com/curriculumvault/vaultdrive/internal/identity"
)

// uploadConcurrency caps parallel uploads in multi-file put.
const uploadConcurrency = 4

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runGet,
	}
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-path>...",
		Short: "Upload one or more files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPut,
	}

	cmd.Flags().String("to", "/", "destination folder path")

	return cmd
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder (recursive)",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <path> <new-name>",
		Short: "Rename a file or folder",
		Args:  cobra.ExactArgs(2),
		RunE:  runRename,
	}
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
		Long: `Delete a file or folder from the shared Drive.

Folder deletion is recursive on the provider side — all contents are deleted.
Use --recursive (-r) to confirm intent when deleting folders.`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}

	cmd.Flags().BoolP("recursive", "r", false, "confirm recursive folder deletion")

	return cmd
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

// currentIdentity loads the cached identity snapshot, failing when nobody is
// signed in.
func currentIdentity(ctx context.Context, a *app) (*identity.Identity, error) {
	snap, err := a.store.IdentitySnapshot(ctx)
	if err != nil {
		return nil, err
	}

	if snap.Email == "" {
		return nil, fmt.Errorf("not signed in — run 'vaultdrive login' first")
	}

	// Role is recomputed from the current admin list rather than trusted from
	// the cache, so admin list edits take effect without re-login.
	role := a.resolver.RoleFor(snap.Email)

	return &identity.Identity{
		Email:      snap.Email,
		Name:       snap.Name,
		PictureURL: snap.Picture,
		Role:       role,
	}, nil
}

// requireAction checks the signed-in user's role against a portal action.
func requireAction(ctx context.Context, a *app, action identity.Action) (*identity.Identity, error) {
	ident, err := currentIdentity(ctx, a)
	if err != nil {
		return nil, err
	}

	if !ident.Can(action) {
		return nil, fmt.Errorf("your role (%s) is not allowed to %s", ident.Role, action)
	}

	return ident, nil
}

// rootFolderID resolves the shared Drive folder from the stored share URL.
func rootFolderID(ctx context.Context, a *app) (string, error) {
	app, err := a.store.ProviderApp(ctx)
	if err != nil {
		return "", err
	}

	if app.DriveURL == "" {
		return "", fmt.Errorf("no Drive folder configured — run 'vaultdrive config set drive-url <share-url>'")
	}

	id, err := drive.ExtractFolderID(app.DriveURL)
	if err != nil {
		return "", fmt.Errorf("configured drive URL %q: %w", app.DriveURL, err)
	}

	return id, nil
}

// cleanRemotePath strips leading/trailing slashes, returns "" for root.
func cleanRemotePath(path string) string {
	return strings.Trim(path, "/")
}

// splitParentAndName splits a remote path into parent path and name.
// For "foo/bar/baz" returns ("foo/bar", "baz").
func splitParentAndName(path string) (string, string) {
	clean := cleanRemotePath(path)

	idx := strings.LastIndex(clean, "/")
	if idx < 0 {
		return "", clean
	}

	return clean[:idx], clean[idx+1:]
}

// resolveFolder walks a remote path segment by segment from the root folder
// and returns the folder ID at the end.
func resolveFolder(ctx context.Context, a *app, rootID, remotePath string) (string, error) {
	clean := cleanRemotePath(remotePath)
	if clean == "" {
		return rootID, nil
	}

	current := rootID

	for _, segment := range strings.Split(clean, "/") {
		items, err := a.guard.ListChildren(ctx, current)
		if err != nil {
			return "", err
		}

		found := ""

		for i := range items {
			if items[i].IsFolder && items[i].Name == segment {
				found = items[i].ID
				break
			}
		}

		if found == "" {
			return "", fmt.Errorf("folder %q not found in path %q", segment, remotePath)
		}

		current = found
	}

	return current, nil
}

// resolveItem resolves a remote path to an item. Root ("" or "/") resolves to
// the shared folder itself.
func resolveItem(ctx context.Context, a *app, rootID, remotePath string) (*drive.Item, error) {
	clean := cleanRemotePath(remotePath)
	if clean == "" {
		return a.guard.GetFile(ctx, rootID)
	}

	parentPath, name := splitParentAndName(clean)

	parentID, err := resolveFolder(ctx, a, rootID, parentPath)
	if err != nil {
		return nil, err
	}

	items, err := a.guard.ListChildren(ctx, parentID)
	if err != nil {
		return nil, err
	}

	for i := range items {
		if items[i].Name == name {
			return &items[i], nil
		}
	}

	return nil, fmt.Errorf("%q: %w", remotePath, drive.ErrNotFound)
}

func runLs(cmd *cobra.Command, args []string) error {
	remotePath := "/"
	if len(args) > 0 {
		remotePath = args[0]
	}

	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := requireAction(ctx, a, identity.ActionView); err != nil {
		return err
	}

	rootID, err := rootFolderID(ctx, a)
	if err != nil {
		return err
	}

	folderID, err := resolveFolder(ctx, a, rootID, remotePath)
	if err != nil {
		return err
	}

	items, err := a.guard.ListChildren(ctx, folderID)
	if err != nil {
		return fmt.Errorf("listing %q: %w", remotePath, err)
	}

	if flagJSON {
		return printItemsJSON(items)
	}

	printItemsTable(items)

	return nil
}

// lsJSONItem is the JSON output schema for a single item in ls output.
type lsJSONItem struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	IsFolder   bool   `json:"is_folder"`
	ModifiedAt string `json:"modified_at"`
	ID         string `json:"id"`
	ViewLink   string `json:"view_link,omitempty"`
}

func printItemsJSON(items []drive.Item) error {
	out := make([]lsJSONItem, 0, len(items))
	for i := range items {
		out = append(out, lsJSONItem{
			Name:       items[i].Name,
			Size:       items[i].Size,
			IsFolder:   items[i].IsFolder,
			ModifiedAt: items[i].ModifiedAt.Format("2006-01-02T15:04:05Z"),
			ID:         items[i].ID,
			ViewLink:   items[i].WebViewLink,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func printItemsTable(items []drive.Item) {
	// Sort: folders first, then alphabetical.
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsFolder != items[j].IsFolder {
			return items[i].IsFolder
		}

		return items[i].Name < items[j].Name
	})

	headers := []string{"NAME", "SIZE", "MODIFIED"}
	rows := make([][]string, 0, len(items))

	for i := range items {
		name := items[i].Name
		if items[i].IsFolder {
			name += "/"
		}

		rows = append(rows, []string{name, formatSize(items[i].Size), formatTime(items[i].ModifiedAt)})
	}

	printTable(os.Stdout, headers, rows)
}

func runGet(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := requireAction(ctx, a, identity.ActionView); err != nil {
		return err
	}

	rootID, err := rootFolderID(ctx, a)
	if err != nil {
		return err
	}

	item, err := resolveItem(ctx, a, rootID, remotePath)
	if err != nil {
		return err
	}

	if item.IsFolder {
		return fmt.Errorf("%q is a folder", remotePath)
	}

	localPath := item.Name
	if len(args) > 1 {
		localPath = args[1]
	}

	rc, err := a.guard.Download(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("downloading %q: %w", remotePath, err)
	}
	defer rc.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating %q: %w", localPath, err)
	}

	written, err := io.Copy(out, rc)
	if err != nil {
		out.Close()
		return fmt.Errorf("writing %q: %w", localPath, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %q: %w", localPath, err)
	}

	statusf(flagQuiet, "Downloaded %s (%s)\n", localPath, formatSize(written))

	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := requireAction(ctx, a, identity.ActionUpload); err != nil {
		return err
	}

	rootID, err := rootFolderID(ctx, a)
	if err != nil {
		return err
	}

	destPath, _ := cmd.Flags().GetString("to")

	parentID, err := resolveFolder(ctx, a, rootID, destPath)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)

	for _, localPath := range args {
		g.Go(func() error {
			name := filepath.Base(localPath)
			mimeType := mime.TypeByExtension(filepath.Ext(localPath))

			item, uploadErr := a.guard.Upload(gctx, parentID, name, mimeType, func() (io.ReadCloser, error) {
				return os.Open(localPath)
			})
			if uploadErr != nil {
				return fmt.Errorf("uploading %q: %w", localPath, uploadErr)
			}

			statusf(flagQuiet, "Uploaded %s (%s)\n", item.Name, formatSize(item.Size))

			return nil
		})
	}

	return g.Wait()
}

func runMkdir(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := requireAction(ctx, a, identity.ActionUpload); err != nil {
		return err
	}

	rootID, err := rootFolderID(ctx, a)
	if err != nil {
		return err
	}

	clean := cleanRemotePath(args[0])
	if clean == "" {
		return fmt.Errorf("mkdir: empty path")
	}

	// Create each missing segment in turn.
	current := rootID

	for _, segment := range strings.Split(clean, "/") {
		items, err := a.guard.ListChildren(ctx, current)
		if err != nil {
			return err
		}

		found := ""

		for i := range items {
			if items[i].IsFolder && items[i].Name == segment {
				found = items[i].ID
				break
			}
		}

		if found != "" {
			current = found
			continue
		}

		created, err := a.guard.CreateFolder(ctx, current, segment)
		if err != nil {
			return fmt.Errorf("creating folder %q: %w", segment, err)
		}

		current = created.ID
	}

	statusf(flagQuiet, "Created %s\n", clean)

	return nil
}

func runRename(cmd *cobra.Command, args []string) error {
	remotePath, newName := args[0], args[1]
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := requireAction(ctx, a, identity.ActionUpload); err != nil {
		return err
	}

	if strings.Contains(newName, "/") {
		return fmt.Errorf("rename: new name must not contain '/'")
	}

	rootID, err := rootFolderID(ctx, a)
	if err != nil {
		return err
	}

	item, err := resolveItem(ctx, a, rootID, remotePath)
	if err != nil {
		return err
	}

	renamed, err := a.guard.Rename(ctx, item.ID, newName)
	if err != nil {
		return fmt.Errorf("renaming %q: %w", remotePath, err)
	}

	statusf(flagQuiet, "Renamed to %s\n", renamed.Name)

	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := requireAction(ctx, a, identity.ActionDelete); err != nil {
		return err
	}

	rootID, err := rootFolderID(ctx, a)
	if err != nil {
		return err
	}

	item, err := resolveItem(ctx, a, rootID, remotePath)
	if err != nil {
		return err
	}

	if item.IsFolder {
		recursive, _ := cmd.Flags().GetBool("recursive")
		if !recursive {
			return fmt.Errorf("%q is a folder — pass --recursive to delete it and its contents", remotePath)
		}
	}

	if err := a.guard.Delete(ctx, item.ID); err != nil {
		return fmt.Errorf("deleting %q: %w", remotePath, err)
	}

	statusf(flagQuiet, "Deleted %s\n", remotePath)

	return nil
}

// statOutput is the JSON schema for `stat --json`.
type statOutput struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MimeType    string `json:"mime_type"`
	Size        int64  `json:"size"`
	IsFolder    bool   `json:"is_folder"`
	ModifiedAt  string `json:"modified_at"`
	ViewLink    string `json:"view_link,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

func runStat(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := requireAction(ctx, a, identity.ActionView); err != nil {
		return err
	}

	rootID, err := rootFolderID(ctx, a)
	if err != nil {
		return err
	}

	item, err := resolveItem(ctx, a, rootID, remotePath)
	if err != nil {
		if errors.Is(err, drive.ErrNotFound) {
			return fmt.Errorf("%q not found", remotePath)
		}

		return err
	}

	if flagJSON {
		out := statOutput{
			ID:         item.ID,
			Name:       item.Name,
			MimeType:   item.MimeType,
			Size:       item.Size,
			IsFolder:   item.IsFolder,
			ModifiedAt: item.ModifiedAt.Format("2006-01-02T15:04:05Z"),
			ViewLink:   item.WebViewLink,
		}
		if !item.IsFolder {
			out.DownloadURL = drive.FileDownloadURL(item.ID)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	kind := "file"
	if item.IsFolder {
		kind = "folder"
	}

	fmt.Printf("Name:     %s\n", item.Name)
	fmt.Printf("Type:     %s (%s)\n", kind, item.MimeType)
	fmt.Printf("Size:     %s\n", formatSize(item.Size))
	fmt.Printf("Modified: %s\n", formatTime(item.ModifiedAt))
	fmt.Printf("ID:       %s\n", item.ID)

	if item.WebViewLink != "" {
		fmt.Printf("Link:     %s\n", item.WebViewLink)
	}

	return nil
}
