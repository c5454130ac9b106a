// Package meta converts modification times between the remote store's text
// form, local file times and the integer epoch seconds the engine compares.
package meta

import (
	"fmt"
	"os"
	"time"
)

// RemoteLayout is the layout written to the remote store. Fractional seconds
// are never emitted.
const RemoteLayout = "2006-01-02T15:04:05Z"

// Stater is satisfied by go-billy filesystems, such as the one behind
// local.Adapter. The adapter itself returns fs.LocalEntry and does not.
type Stater interface {
	Stat(name string) (os.FileInfo, error)
}

// ToEpoch parses a remote timestamp ("2024-05-01T10:00:00Z",
// "2024-05-01T10:00:00.123Z" or any RFC 3339 offset) into epoch seconds.
// Sub-second precision is discarded.
func ToEpoch(text string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return 0, fmt.Errorf("meta: parse remote time %q: %w", text, err)
	}
	return FromTime(t), nil
}

// ToRemoteFormat renders epoch seconds in the remote store's UTC layout.
func ToRemoteFormat(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(RemoteLayout)
}

// FromTime truncates t to whole epoch seconds.
func FromTime(t time.Time) int64 {
	return t.Unix()
}

// ToTime is the inverse of FromTime.
func ToTime(epoch int64) time.Time {
	return time.Unix(epoch, 0)
}

// LocalModifiedAtEpoch stats path and returns its modification time in epoch
// seconds.
func LocalModifiedAtEpoch(fsys Stater, path string) (int64, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return 0, err
	}
	return FromTime(info.ModTime()), nil
}
