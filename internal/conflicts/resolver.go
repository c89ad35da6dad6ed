package conflicts

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Syncthing names a conflict copy by inserting a marker between the file's
// base name and its extension, e.g. "report.sync-conflict-20240101-123456-ABC12DE.txt".
// Older versions emit only the date part, and the device ID is optional.
const conflictMarker = ".sync-conflict-"

// conflictPattern matches the marker plus its optional time and device parts.
var conflictPattern = regexp.MustCompile(`\.sync-conflict-(\d{8})(?:-(\d{6}))?(?:-([A-Z0-9]{7}))?`)

// ConflictInfo describes a single conflict-marker file.
type ConflictInfo struct {
	// MarkerPath is the absolute path of the conflict copy on disk.
	MarkerPath string
	// OriginalPath is the path of the file the conflict copy was made from.
	OriginalPath string
	// OccurredAt is the conflict timestamp encoded in the file name.
	// Date-only markers resolve to midnight local time.
	OccurredAt time.Time
	// Device is the short ID of the device that produced the conflict copy,
	// empty for older Syncthing versions that did not encode it.
	Device string
}

// IsConflictMarker reports whether the file name carries a conflict marker.
func IsConflictMarker(path string) bool {
	return strings.Contains(filepath.Base(path), conflictMarker)
}

// ParseConflictPath extracts the original file path and conflict metadata
// from a marker path. ok is false when the name does not follow the conflict
// naming convention; that is not an error, the file is simply not a marker.
func ParseConflictPath(path string) (info ConflictInfo, ok bool) {
	base := filepath.Base(path)
	m := conflictPattern.FindStringSubmatch(base)
	if m == nil {
		return ConflictInfo{}, false
	}

	info.MarkerPath = path
	info.Device = m[3]
	info.OriginalPath = filepath.Join(filepath.Dir(path), strings.Replace(base, m[0], "", 1))

	layout, stamp := "20060102", m[1]
	if m[2] != "" {
		layout, stamp = "20060102-150405", m[1]+"-"+m[2]
	}
	if t, err := time.ParseInLocation(layout, stamp, time.Local); err == nil {
		info.OccurredAt = t
	}

	return info, true
}

// OriginalPath resolves a marker path to the path of the file it conflicts
// with. ok is false for paths that are not recognized conflict markers.
func OriginalPath(path string) (string, bool) {
	info, ok := ParseConflictPath(path)
	if !ok {
		return "", false
	}
	return info.OriginalPath, true
}
