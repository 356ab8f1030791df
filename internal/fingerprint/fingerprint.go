// Package fingerprint derives the cache key of a bundle from the ordered list
// of its source files and their newest modification time.
//
// The key is cheap to compute on every request: only file names are hashed
// and each source is stat-ed once. File contents are never read, so a source
// change is detected through its modification time alone.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/conneroisu/assetmin/internal/errors"
)

// Separator joins paths before hashing. It cannot occur inside a path list
// entry on the platform, so distinct lists never join to the same string.
var Separator = string(os.PathListSeparator)

// Fingerprint identifies the current state of an ordered file set.
type Fingerprint struct {
	// Hash is the hex MD5 digest of the joined path list.
	Hash string
	// ModTime is the newest modification time among the files, in Unix seconds.
	ModTime int64
}

// String returns the cache key, "<hash>_<modtime>".
func (f Fingerprint) String() string {
	return f.Hash + "_" + strconv.FormatInt(f.ModTime, 10)
}

// Time returns ModTime as a time.Time.
func (f Fingerprint) Time() time.Time {
	return time.Unix(f.ModTime, 0)
}

// BundleName returns the bundle file name for this fingerprint, such as
// "<hash>_<modtime>.min.css" for suffix ".min" and ext ".css".
func (f Fingerprint) BundleName(suffix, ext string) string {
	return f.String() + suffix + ext
}

// MaxModTime returns the newest modification time of paths, truncated to the
// second. A file that cannot be stat-ed fails the whole call with a
// missing-file error.
func MaxModTime(paths []string) (time.Time, error) {
	var max int64
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return time.Time{}, errors.NewMissingFileError(path, err)
		}
		if mt := info.ModTime().Unix(); mt > max {
			max = mt
		}
	}
	return time.Unix(max, 0), nil
}

// HashPaths hashes the ordered path list. The digest is order and case
// sensitive.
func HashPaths(paths []string) string {
	sum := md5.Sum([]byte(strings.Join(paths, Separator)))
	return hex.EncodeToString(sum[:])
}

// Compute fingerprints paths.
func Compute(paths []string) (Fingerprint, error) {
	mt, err := MaxModTime(paths)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Hash: HashPaths(paths), ModTime: mt.Unix()}, nil
}
