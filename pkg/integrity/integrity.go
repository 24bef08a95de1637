// Package integrity computes and verifies the hashes stored for cached
// resources: a SHA-256 of the whole file plus SHA-1 hashes of fixed-size
// pieces, so a damaged file can be traced to the pieces that differ.
package integrity

import (
	"crypto/sha1" //nolint:gosec // piece hashes locate damage, they do not authenticate
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/glorpus-work/modkit/pkg/errors"
)

// Piece length bounds.
const (
	MinPieceLength int64 = 64 << 10
	MaxPieceLength int64 = 4 << 20
)

// pieceTiers maps an upper file size bound to the piece length used for it.
var pieceTiers = []struct {
	upTo  int64
	piece int64
}{
	{1 << 20, 64 << 10},
	{16 << 20, 256 << 10},
	{128 << 20, 1 << 20},
	{1 << 30, 2 << 20},
}

// PieceLength returns the piece length for a file of the given size.
// Larger files get larger pieces; the result is always between
// MinPieceLength and MaxPieceLength.
func PieceLength(size int64) int64 {
	for _, tier := range pieceTiers {
		if size <= tier.upTo {
			return tier.piece
		}
	}
	return MaxPieceLength
}

// Digest is the integrity record of one file.
type Digest struct {
	Size        int64    `json:"size" yaml:"size"`
	SHA256      string   `json:"sha256" yaml:"sha256"`
	PieceLength int64    `json:"piece_length" yaml:"piece_length"`
	Pieces      []string `json:"pieces" yaml:"pieces"`
}

// Compute hashes r, which must yield exactly size bytes.
func Compute(r io.Reader, size int64) (Digest, error) {
	d := Digest{PieceLength: PieceLength(size)}
	whole := sha256.New()
	buf := make([]byte, d.PieceLength)

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			_, _ = whole.Write(buf[:n])
			sum := sha1.Sum(buf[:n]) //nolint:gosec
			d.Pieces = append(d.Pieces, hex.EncodeToString(sum[:]))
			d.Size += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return Digest{}, errors.Wrap(err, "hashing")
		}
	}
	d.SHA256 = hex.EncodeToString(whole.Sum(nil))
	return d, nil
}

// ComputeFile hashes the file at path.
func ComputeFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, errors.Wrap(err, "open for hashing")
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return Digest{}, errors.Wrap(err, "stat for hashing")
	}
	return Compute(f, st.Size())
}

// MismatchError describes how a file differs from its recorded digest.
// It wraps ErrIntegrity.
type MismatchError struct {
	Path      string
	Expected  string
	Got       string
	BadPieces []int
}

// Error implements error.
func (e *MismatchError) Error() string {
	msg := fmt.Sprintf("sha256 mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Got)
	if len(e.BadPieces) > 0 {
		msg += fmt.Sprintf(" (%d bad pieces)", len(e.BadPieces))
	}
	return msg
}

// Unwrap returns ErrIntegrity so callers can use errors.Is.
func (e *MismatchError) Unwrap() error { return errors.ErrIntegrity }

// Verify recomputes the digest of path and compares it with want. Pieces
// are compared only when want records them with the same piece length.
func Verify(path string, want Digest) error {
	got, err := ComputeFile(path)
	if err != nil {
		return err
	}
	return Compare(path, want, got)
}

// Compare reports a *MismatchError when got differs from want.
func Compare(path string, want, got Digest) error {
	if strings.EqualFold(want.SHA256, got.SHA256) && (want.Size == 0 || want.Size == got.Size) {
		return nil
	}
	mismatch := &MismatchError{
		Path:     path,
		Expected: strings.ToLower(want.SHA256),
		Got:      got.SHA256,
	}
	if len(want.Pieces) > 0 && want.PieceLength == got.PieceLength {
		for i := range max(len(want.Pieces), len(got.Pieces)) {
			if i >= len(want.Pieces) || i >= len(got.Pieces) || !strings.EqualFold(want.Pieces[i], got.Pieces[i]) {
				mismatch.BadPieces = append(mismatch.BadPieces, i)
			}
		}
	}
	return mismatch
}
