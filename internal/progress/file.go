package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File keeps the whole state in one JSON document. Saves write a temporary
// file next to the target and rename it over, so readers see either the old
// or the new document.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Name() string { return "file" }

func (f *File) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return Snapshot{}, nil
	}

	var doc map[string]*Session
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}

	return fromDocument(doc), nil
}

func (f *File) Save(_ context.Context, snapshot Snapshot) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(toDocument(snapshot)); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return err
	}

	return nil
}

func (f *File) Close() error { return nil }
