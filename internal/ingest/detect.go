package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
)

type Status string

const (
	StatusNew     Status = "new"
	StatusUpdated Status = "updated"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

var ErrTooLarge = errors.New("source exceeds size limit")

// HashFile is the SHA-256 of the file bytes, read as a stream.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashText is used for web sources, whose raw bytes change between fetches.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Classify compares a fresh hash with the one recorded for the source.
func Classify(prior string, known bool, hash string, force bool) Status {
	switch {
	case force || !known:
		return StatusNew
	case prior != hash:
		return StatusUpdated
	default:
		return StatusSkipped
	}
}

// sizeBudget enforces per-source and cumulative byte caps. Zero disables a cap.
type sizeBudget struct {
	perSource int64
	total     int64
	used      int64
}

func (b *sizeBudget) admit(size int64) error {
	if b.perSource > 0 && size > b.perSource {
		return fmt.Errorf("%w: %s exceeds the per-file limit of %s",
			ErrTooLarge, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(b.perSource)))
	}
	if b.total > 0 && b.used+size > b.total {
		return fmt.Errorf("%w: cumulative limit of %s reached (%s already admitted)",
			ErrTooLarge, humanize.IBytes(uint64(b.total)), humanize.IBytes(uint64(b.used)))
	}
	b.used += size
	return nil
}
