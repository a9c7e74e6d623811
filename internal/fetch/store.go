package fetch

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/aptrelease/internal/apt"
)

// Store manages a local directory that holds a Release file and the
// files it lists, laid out as in the repository.
type Store struct {
	dir string
}

// NewStore constructs a Store rooted at dir, creating the directory
// if needed.
func NewStore(dir string) (*Store, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, "NewStore")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "NewStore")
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsDir() {
		return nil, errors.New("not a directory: " + dir)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory of the Store.
func (s *Store) Dir() string {
	return s.dir
}

// TempFile creates a new temporary file in the Store directory.
func (s *Store) TempFile() (*os.File, error) {
	return os.CreateTemp(s.dir, "_tmp")
}

func (s *Store) fullPath(p string) string {
	return filepath.Join(s.dir, filepath.FromSlash(p))
}

// Lookup returns true if a file matching fe is already stored at its
// path.
func (s *Store) Lookup(fe apt.FileEntry) bool {
	f, err := os.Open(s.fullPath(fe.Path())) // #nosec G304 - manifest paths were validated by the parser
	if err != nil {
		return false
	}
	defer f.Close()
	return Check(fe, f) == nil
}

// StoreLink links the verified file at tmp to the path of fe. With
// byHash, it is also linked to every by-hash path of fe.
func (s *Store) StoreLink(fe apt.FileEntry, tmp string, byHash bool) error {
	paths := []string{fe.Path()}
	if byHash {
		paths = append(paths, fe.ByHashPaths()...)
	}
	for _, p := range paths {
		fp := s.fullPath(p)
		if err := os.MkdirAll(filepath.Dir(fp), 0o750); err != nil {
			return errors.Wrap(err, "StoreLink: "+fp)
		}
		err := os.Link(tmp, fp)
		if err != nil && os.IsExist(err) {
			// replace a stale copy
			if err := os.Remove(fp); err != nil {
				return errors.Wrap(err, "StoreLink: "+fp)
			}
			err = os.Link(tmp, fp)
		}
		if err != nil {
			return errors.Wrap(err, "StoreLink: "+fp)
		}
	}
	return nil
}

// WriteFile atomically replaces the file name with data.
func (s *Store) WriteFile(name string, data []byte) error {
	f, err := s.TempFile()
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrap(err, "WriteFile: "+name)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "WriteFile: "+name)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(f.Name(), 0o644); err != nil {
		return err
	}
	return errors.Wrap(os.Rename(f.Name(), s.fullPath(name)), "WriteFile")
}

// Sync calls fsync(2) on every directory of the Store.
func (s *Store) Sync() error {
	return errors.Wrap(DirSyncTree(s.dir), "DirSyncTree(s.dir)")
}

// DirSync calls fsync(2) on the directory to save changes in the directory.
//
// This should be called after os.Create, os.Rename and so on.
func DirSync(d string) error {
	f, err := os.Open(filepath.Clean(d))
	if err != nil {
		return err
	}
	err = f.Sync()
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// DirSyncTree calls DirSync recursively on a directory tree
// rooted from d.
func DirSyncTree(d string) error {
	// filepath.Walk includes d.
	return filepath.Walk(d, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsDir() {
			return nil
		}
		return DirSync(p)
	})
}
