// Package spool manages the temporary-file area streaming uploads are
// spilled into so the data becomes restartable and random-access.
package spool

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

type Spool struct {
	basePath string
}

func New(basePath string) (*Spool, error) {
	basePath = filepath.Clean(basePath)

	if err := ensureDir(basePath); err != nil {
		return nil, err
	}

	log.Infof("Opened spool at %s", basePath)

	return &Spool{basePath: basePath}, nil
}

// ensureDir checks if a directory exists at the given path, and if not, creates it.
func ensureDir(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(path, 0755)
		}
		return err
	}
	if !stat.IsDir() {
		return &os.PathError{Op: "ensureDir", Path: path, Err: os.ErrExist}
	}
	return nil
}

// CreateTempFile allocates a fresh file in the spool area.
func (s *Spool) CreateTempFile() (string, error) {
	f, err := os.CreateTemp(s.basePath, "upload-*")
	if err != nil {
		return "", err
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// Spill copies the reader into a fresh spool file and returns its path.
func (s *Spool) Spill(in io.Reader) (string, error) {
	f, err := os.CreateTemp(s.basePath, "upload-*")
	if err != nil {
		return "", err
	}

	n, err := io.Copy(f, in)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}

	log.Debugf("spool: spilled %d bytes to %s", n, f.Name())
	return f.Name(), nil
}

// Remove deletes a spool file.
func (s *Spool) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
