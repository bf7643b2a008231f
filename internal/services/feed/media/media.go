// Package media converts uploaded image files into inline data URLs.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"
)

// ErrFileTooLarge reports an image above the encoder's size limit.
var ErrFileTooLarge = errors.New("file exceeds size limit")

// File is one binary upload that can be opened for reading.
type File struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FromFileHeader returns a File reading one part of a multipart upload.
func FromFileHeader(header *multipart.FileHeader) File {
	if header == nil {
		return File{}
	}
	return File{
		Name: header.Filename,
		Open: func() (io.ReadCloser, error) { return header.Open() },
	}
}

// Encoder turns files into data URLs. The zero value has no size limit.
type Encoder struct {
	// MaxBytes caps a single file's size; zero or less disables the cap.
	MaxBytes int64
}

// FileToBase64 encodes file with no size limit.
func FileToBase64(ctx context.Context, file File) (string, error) {
	return Encoder{}.FileToBase64(ctx, file)
}

// FilesToBase64 encodes files with no size limit, preserving input order.
func FilesToBase64(ctx context.Context, files []File) ([]string, error) {
	return Encoder{}.FilesToBase64(ctx, files)
}

// FileToBase64 reads file and returns "data:<mime>;base64,<payload>".
func (e Encoder) FileToBase64(ctx context.Context, file File) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if file.Open == nil {
		return "", fmt.Errorf("read %q: file is not readable", file.Name)
	}
	rc, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open %q: %w", file.Name, err)
	}
	defer rc.Close()

	var reader io.Reader = rc
	if e.MaxBytes > 0 {
		reader = io.LimitReader(rc, e.MaxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", file.Name, err)
	}
	if e.MaxBytes > 0 && int64(len(data)) > e.MaxBytes {
		return "", fmt.Errorf("read %q: %w (%d bytes)", file.Name, ErrFileTooLarge, e.MaxBytes)
	}
	return DataURL(data), nil
}

// FilesToBase64 encodes every file concurrently. The result is in input order;
// the first failure cancels the rest and is returned.
func (e Encoder) FilesToBase64(ctx context.Context, files []File) ([]string, error) {
	out := make([]string, len(files))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, file := range files {
		group.Go(func() error {
			encoded, err := e.FileToBase64(groupCtx, file)
			if err != nil {
				return err
			}
			out[i] = encoded
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// DataURL renders data as a base64 data URL using its sniffed MIME type.
func DataURL(data []byte) string {
	// mimetype renders parameters as "; charset=...", data URLs expect no spaces.
	mediaType := strings.ReplaceAll(mimetype.Detect(data).String(), " ", "")
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mediaType) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(mediaType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}
