package leak

import (
	"os"
	"sync"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/guard"
)

// File is an *os.File whose lifetime the detector records.
type File struct {
	*os.File
	d         *Detector
	id        uint64
	closeOnce sync.Once
}

// Close closes the file and drops its record.
func (f *File) Close() error {
	err := f.File.Close()
	f.closeOnce.Do(func() { f.d.closed(f.id) })
	return err
}

// Open opens name for reading through the Default detector.
func Open(name string) (*File, error) {
	return Default.OpenFile(name, os.O_RDONLY, 0)
}

// Create creates or truncates name through the Default detector.
func Create(name string) (*File, error) {
	return Default.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

// OpenFile is os.OpenFile through the Default detector.
func OpenFile(name string, flag int, perm os.FileMode) (*File, error) {
	return Default.OpenFile(name, flag, perm)
}

// OpenFile opens name after consulting the active interceptor and records
// the handle when the detector is installed.
func (d *Detector) OpenFile(name string, flag int, perm os.FileMode) (*File, error) {
	mode := accessMode(flag)
	if mode != "w" {
		if err := guard.CheckRead(name); err != nil {
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		}
	}
	if mode != "r" || flag&(os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		if err := guard.CheckWrite(name); err != nil {
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		}
	}

	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &File{File: f, d: d, id: d.opened(f, mode)}, nil
}

func accessMode(flag int) string {
	switch flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_WRONLY:
		return "w"
	case os.O_RDWR:
		return "rw"
	default:
		return "r"
	}
}
