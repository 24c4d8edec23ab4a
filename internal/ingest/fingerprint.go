package ingest

import (
	"fmt"
	"io"
	"os"

	"github.com/zeebo/xxh3"

	"github.com/lox/taxiemissions/internal/models"
)

// Fingerprint hashes the file at path so the ledger can show whether an input
// changed between runs.
func Fingerprint(path string) (models.SourceFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.SourceFile{}, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	defer f.Close()

	h := xxh3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return models.SourceFile{}, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return models.SourceFile{
		Path:      path,
		SizeBytes: n,
		Checksum:  fmt.Sprintf("%016x", h.Sum64()),
	}, nil
}
