package discover

import (
	"bufio"
	"io"
	"os"

	"golang.org/x/exp/mmap"
)

// File is an opened artifact behind a ReaderAt and size pair. Dumps
// from large fabrics run to hundreds of megabytes, so the preferred
// path memory-maps instead of slurping; when mapping fails the plain
// file handle serves the same interface.
type File struct {
	ra     io.ReaderAt
	size   int64
	closer io.Closer
}

// OpenFile opens an artifact for reading, memory-mapped when possible
func OpenFile(path string) (*File, error) {
	if r, err := mmap.Open(path); err == nil {
		return &File{ra: r, size: int64(r.Len()), closer: r}, nil
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := fh.Stat()
	if err != nil {
		_ = fh.Close()
		return nil, err
	}
	return &File{ra: fh, size: info.Size(), closer: fh}, nil
}

// ReadAt implements io.ReaderAt
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.ra.ReadAt(p, off)
}

// Size returns the artifact length in bytes
func (f *File) Size() int64 {
	return f.size
}

// SequentialReader returns a buffered reader over the whole artifact.
// Parsers scan line by line; the buffer keeps them off the page-fault
// path for every short read.
func (f *File) SequentialReader() *bufio.Reader {
	return bufio.NewReaderSize(io.NewSectionReader(f.ra, 0, f.size), 256*1024)
}

// Bytes reads the whole artifact into memory
func (f *File) Bytes() ([]byte, error) {
	buf := make([]byte, f.size)
	if f.size == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(io.NewSectionReader(f.ra, 0, f.size), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close releases the mapping or file handle
func (f *File) Close() error {
	return f.closer.Close()
}

// ReadArtifact is the open-read-close convenience the pipeline uses
func ReadArtifact(path string) ([]byte, error) {
	f, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Bytes()
}
