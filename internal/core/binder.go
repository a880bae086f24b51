package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BoundSource is the file supplied for a scheduled run.
type BoundSource struct {
	Filename string
	MIMEType string
	Data     []byte
}

// SourceBinder supplies the file for a scheduled import at fire time.
// It returns ErrNoSourceBound when nothing is available.
type SourceBinder interface {
	Bind(ctx context.Context, req ScheduledImportRequest) (BoundSource, error)
}

// DirectoryBinder picks up files dropped into <root>/<entity_type>/.
// The oldest file wins and is moved to the processed/ subdirectory once
// read so it is never imported twice. A file over MaxBytes is archived
// unread and reported as ErrTooLarge; zero means no limit.
type DirectoryBinder struct {
	Root     string
	MaxBytes int64
}

// Bind implements SourceBinder.
func (b DirectoryBinder) Bind(ctx context.Context, req ScheduledImportRequest) (BoundSource, error) {
	if b.Root == "" {
		return BoundSource{}, &ExecutionError{Kind: ExecNoSourceBound, Detail: "no source directory configured"}
	}

	dir := filepath.Join(b.Root, req.EntityType)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return BoundSource{}, &ExecutionError{Kind: ExecNoSourceBound, Detail: "source directory missing: " + dir}
		}
		return BoundSource{}, fmt.Errorf("read source directory: %w", err)
	}

	type candidate struct {
		name string
		mod  time.Time
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{name: e.Name(), mod: info.ModTime()})
	}
	if len(files) == 0 {
		return BoundSource{}, &ExecutionError{Kind: ExecNoSourceBound, Detail: "no file waiting in " + dir}
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].mod.Equal(files[j].mod) {
			return files[i].name < files[j].name
		}
		return files[i].mod.Before(files[j].mod)
	})

	name := files[0].name
	src := BoundSource{Filename: name, MIMEType: MIMEForFile(name)}
	data, readErr := b.read(filepath.Join(dir, name))
	if readErr != nil && !errors.Is(readErr, ErrTooLarge) {
		return BoundSource{}, readErr
	}
	if err := archive(dir, name); err != nil {
		return BoundSource{}, err
	}
	if readErr != nil {
		return src, readErr
	}
	src.Data = data
	return src, nil
}

// read loads at most MaxBytes+1 bytes so an oversized drop is detected
// without pulling it into memory.
func (b DirectoryBinder) read(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if b.MaxBytes > 0 {
		r = io.LimitReader(f, b.MaxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read source file: %w", err)
	}
	if b.MaxBytes > 0 && int64(len(data)) > b.MaxBytes {
		return nil, &ParseError{
			Kind:   ParseTooLarge,
			Detail: fmt.Sprintf("%s exceeds limit of %d bytes", filepath.Base(path), b.MaxBytes),
		}
	}
	return data, nil
}

func archive(dir, name string) error {
	processed := filepath.Join(dir, "processed")
	if err := os.MkdirAll(processed, 0o755); err != nil {
		return fmt.Errorf("create processed directory: %w", err)
	}
	stamp := time.Now().UTC().Format("20060102T150405")
	if err := os.Rename(filepath.Join(dir, name), filepath.Join(processed, stamp+"-"+name)); err != nil {
		return fmt.Errorf("archive source file: %w", err)
	}
	return nil
}

// MIMEForFile guesses the declared type of a file from its extension.
// Unknown extensions are read as CSV.
func MIMEForFile(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".tsv", ".tab":
		return "text/tab-separated-values"
	case ".xlsx":
		return mimeXLSX
	case ".txt":
		return "text/plain"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "text/csv"
}
