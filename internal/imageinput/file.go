package imageinput

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/example/brewguard/internal/detection"
)

// OpenCandidate builds an UploadCandidate from a file on disk. The MIME type
// is sniffed from content rather than taken from the extension. The caller
// must close the returned file.
func OpenCandidate(path string) (detection.UploadCandidate, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return detection.UploadCandidate{}, nil, fmt.Errorf("open image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return detection.UploadCandidate{}, nil, fmt.Errorf("stat image: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return detection.UploadCandidate{}, nil, fmt.Errorf("%s is a directory", path)
	}

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return detection.UploadCandidate{}, nil, fmt.Errorf("detect image type: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return detection.UploadCandidate{}, nil, fmt.Errorf("rewind image: %w", err)
	}

	return detection.UploadCandidate{
		FileName:  filepath.Base(path),
		SizeBytes: info.Size(),
		MimeType:  baseMime(mtype.String()),
		Content:   f,
	}, f, nil
}

// baseMime strips parameters such as "; charset=utf-8".
func baseMime(value string) string {
	base, _, _ := strings.Cut(value, ";")
	return strings.TrimSpace(base)
}
