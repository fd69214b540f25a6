package runner

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// workspace is the checkout of one job. Release removes it.
type workspace struct {
	dir    string
	logger *zap.Logger
}

func (w *workspace) path(elem ...string) string {
	return filepath.Join(append([]string{w.dir}, elem...)...)
}

func (w *workspace) Release() {
	if err := os.RemoveAll(w.dir); err != nil {
		w.logger.Error("failed to remove workspace", zap.String("dir", w.dir), zap.Error(err))
		return
	}
	w.logger.Debug("workspace removed", zap.String("dir", w.dir))
}

// pathComponent rejects names that would escape the work directory.
func pathComponent(field, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return &ConfigurationError{Field: field, Reason: "not usable as a directory name: " + name}
	}
	return nil
}

// subFolder rejects folders that leave the checkout.
func subFolder(folder string) error {
	if folder != "" && !filepath.IsLocal(folder) {
		return &ConfigurationError{Field: "folder", Reason: "must stay inside the checkout: " + folder}
	}
	return nil
}
