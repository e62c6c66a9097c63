package pgo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// batchExtensions are the file suffixes recognized as batch payloads.
var batchExtensions = map[string]bool{
	".json": true,
	".cbor": true,
	".zz":   true,
	".zst":  true,
}

// ParseBatchFile reads and decodes a batch file
func ParseBatchFile(path string) (Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, fmt.Errorf("reading file: %w", err)
	}
	b, err := DecodeBatch(data)
	if err != nil {
		return Batch{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return b, nil
}

// ListBatchFiles returns the batch files in dir in lexical order, which is
// the order they are replayed in.
func ListBatchFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading batch directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !batchExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
