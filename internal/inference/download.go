package inference

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// FileBackend stores models as files under a directory and downloads missing
// ones over HTTP.
type FileBackend struct {
	Dir        string
	HTTPClient *http.Client
}

func (b FileBackend) path(m Model) string {
	name := m.File
	if name == "" {
		name = filepath.Base(m.URL)
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(b.Dir, name)
}

// Present reports whether the model file exists and is non-empty.
func (b FileBackend) Present(_ context.Context, m Model) (bool, error) {
	st, err := os.Stat(b.path(m))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return st.Size() > 0, nil
}

// Fetch downloads the model URL into the directory.
func (b FileBackend) Fetch(ctx context.Context, m Model) error {
	if strings.TrimSpace(m.URL) == "" {
		return fmt.Errorf("model %s has no download url", m.ID)
	}
	client := b.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return downloadFile(ctx, client, m.URL, b.path(m))
}

// Load verifies the file is readable; file models are mapped lazily by the
// tools that use them.
func (b FileBackend) Load(_ context.Context, m Model, _ LoadOptions) error {
	f, err := os.Open(b.path(m))
	if err != nil {
		return err
	}
	return f.Close()
}

func downloadFile(ctx context.Context, client *http.Client, url, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("download failed: HTTP %d %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	tmpPath := dst + ".download"
	if err := os.RemoveAll(tmpPath); err != nil {
		return err
	}
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return copyErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return closeErr
	}
	if n <= 0 {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("downloaded empty model payload")
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
