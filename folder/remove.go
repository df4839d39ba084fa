package folder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot guards recursive deletes against folders outside the data root.
var ErrOutsideRoot = errors.New("folder is outside the data root")

// RemoveFolder deletes folder and everything in it. A folder that is already
// gone is not an error.
func RemoveFolder(root, folder string) error {
	if strings.TrimSpace(folder) == "" {
		return ErrNoFolder
	}
	if err := within(root, folder); err != nil {
		return err
	}
	if err := os.RemoveAll(folder); err != nil {
		return fmt.Errorf("remove folder %s: %w", folder, err)
	}
	return nil
}

// RemoveDocument deletes one document file. A missing file is not an error.
func RemoveDocument(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove document %s: %w", path, err)
	}
	return nil
}

func within(root, folder string) error {
	if root == "" {
		return nil
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	absFolder, err := filepath.Abs(folder)
	if err != nil {
		return fmt.Errorf("resolve folder: %w", err)
	}
	rel, err := filepath.Rel(absRoot, absFolder)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrOutsideRoot, folder)
	}
	return nil
}
