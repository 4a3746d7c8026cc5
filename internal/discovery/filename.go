package discovery

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// Journal filename patterns:
//   - current: Journal.2024-01-15T120532.01.log
//   - legacy:  Journal.240115120532.01.log (yymmddhhmmss)
var (
	journalNameRegex = regexp.MustCompile(`^Journal\.(\d{4}-\d{2}-\d{2}T\d{6})\.(\d{2})\.log$`)
	legacyNameRegex  = regexp.MustCompile(`^Journal\.(\d{12})\.(\d{2})\.log$`)
	anyJournalRegex  = regexp.MustCompile(`^Journal\..+\.log$`)
)

// IsJournalName reports whether a filename looks like a journal file
func IsJournalName(name string) bool {
	return anyJournalRegex.MatchString(filepath.Base(name))
}

// ParseJournalName extracts the creation timestamp and part number embedded in
// a journal filename. Timestamps are in local time, as written by the game.
func ParseJournalName(name string) (time.Time, int, error) {
	base := filepath.Base(name)

	if m := journalNameRegex.FindStringSubmatch(base); m != nil {
		ts, err := time.ParseInLocation("2006-01-02T150405", m[1], time.Local)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("invalid timestamp in filename %s: %w", base, err)
		}
		part, _ := strconv.Atoi(m[2])
		return ts, part, nil
	}

	if m := legacyNameRegex.FindStringSubmatch(base); m != nil {
		ts, err := time.ParseInLocation("060102150405", m[1], time.Local)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("invalid legacy timestamp in filename %s: %w", base, err)
		}
		part, _ := strconv.Atoi(m[2])
		return ts, part, nil
	}

	return time.Time{}, 0, fmt.Errorf("no timestamp pattern found in filename: %s", base)
}
