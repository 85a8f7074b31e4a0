package repository

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const (
	bookmarksDir = "bookmarks"
	contentDir   = "content"
	indexFile    = "index.json"
	settingsFile = "settings.json"
)

// Store owns the on-disk layout:
//
//	<dir>/bookmarks/<id>.json
//	<dir>/content/<id>.html
//	<dir>/index.json
//	<dir>/settings.json
type Store struct {
	dir string
}

func NewStore(dataDir string) (*Store, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, &StorageError{Op: "resolve", Path: dataDir, Err: err}
	}
	for _, d := range []string{abs, filepath.Join(abs, bookmarksDir), filepath.Join(abs, contentDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, &StorageError{Op: "mkdir", Path: d, Err: err}
		}
	}
	log.Debug().Str("dir", abs).Msg("Data directory ready")
	return &Store{dir: abs}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) bookmarkPath(id string) string {
	return filepath.Join(s.dir, bookmarksDir, id+".json")
}

func (s *Store) contentPath(id string) string {
	return filepath.Join(s.dir, contentDir, id+".html")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, indexFile)
}

func (s *Store) settingsPath() string {
	return filepath.Join(s.dir, settingsFile)
}

// writeJSON writes v pretty-printed through a temp file and rename, so a
// reader never sees a half-written file.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &StorageError{Op: "encode", Path: path, Err: err}
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
