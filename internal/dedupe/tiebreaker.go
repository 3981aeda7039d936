package dedupe

import (
	"errors"
	"sort"

	"github.com/tidyfile/tidyfile/internal/models"
)

// ErrEmptyGroup is returned when keep-file selection is attempted on an
// empty candidate list.
var ErrEmptyGroup = errors.New("cannot select keep file from empty list")

// SelectKeepFile picks which file to retain from a group of duplicates.
//
// Priority, descending:
//  1. Presence of a content hash
//  2. Higher pixel resolution (width * height), missing treated as 0
//  3. Newer modification time, missing treated as oldest
//  4. Larger file size
//  5. Lexicographically smallest name
//
// The name comparison is always decisive, so the result is a total order:
// the same input set yields the same keep file regardless of input order.
func SelectKeepFile(files []*models.FileRecord) (*models.FileRecord, error) {
	if len(files) == 0 {
		return nil, ErrEmptyGroup
	}
	if len(files) == 1 {
		return files[0], nil
	}

	sorted := make([]*models.FileRecord, len(files))
	copy(sorted, files)

	sort.SliceStable(sorted, func(i, j int) bool {
		return keepLess(sorted[i], sorted[j])
	})

	return sorted[0], nil
}

// keepLess reports whether a should be preferred over b as the keep file.
func keepLess(a, b *models.FileRecord) bool {
	aHash := a.SHA256 != ""
	bHash := b.SHA256 != ""
	if aHash != bHash {
		return aHash
	}

	aRes := a.Resolution.Pixels()
	bRes := b.Resolution.Pixels()
	if aRes != bRes {
		return aRes > bRes
	}

	aMod := modifiedUnix(a)
	bMod := modifiedUnix(b)
	if aMod != bMod {
		return aMod > bMod
	}

	if a.SizeBytes != b.SizeBytes {
		return a.SizeBytes > b.SizeBytes
	}

	return a.Name < b.Name
}

func modifiedUnix(f *models.FileRecord) int64 {
	if f.ModifiedTime == nil {
		return 0
	}
	return f.ModifiedTime.UnixNano()
}
