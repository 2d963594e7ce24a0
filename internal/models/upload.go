package models

import "os"

// UploadedFile is the narrow capability every upload source provides,
// whether it comes from a multipart request, a CLI argument or a test.
type UploadedFile interface {
	Name() string
	Read() ([]byte, error)
}

// BytesFile is an in-memory UploadedFile.
type BytesFile struct {
	FileName string
	Data     []byte
}

func (f BytesFile) Name() string { return f.FileName }

func (f BytesFile) Read() ([]byte, error) { return f.Data, nil }

// LocalFile is an UploadedFile backed by a path on disk.
type LocalFile struct {
	Path string
}

func (f LocalFile) Name() string { return f.Path }

func (f LocalFile) Read() ([]byte, error) { return os.ReadFile(f.Path) }
