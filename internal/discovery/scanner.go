package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/rs/zerolog/log"
)

// ErrJournalDirMissing means the configured journal directory does not exist
// or cannot be read. It is a configuration error, not "no data yet".
var ErrJournalDirMissing = errors.New("journal directory missing")

// ListJournals lists journal files in dir sorted by creation order (oldest first)
func ListJournals(dir string) ([]domain.LogFile, error) {
	if err := checkDir(dir); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrJournalDirMissing, dir, err)
	}

	files := make([]domain.LogFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !IsJournalName(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// File vanished between ReadDir and Info
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to get file info")
			continue
		}

		files = append(files, describe(dir, info))
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Before(files[j])
	})

	return files, nil
}

// Latest returns the current (newest) journal, or false if there is none
func Latest(files []domain.LogFile) (domain.LogFile, bool) {
	if len(files) == 0 {
		return domain.LogFile{}, false
	}
	return files[len(files)-1], true
}

func describe(dir string, info os.FileInfo) domain.LogFile {
	path, err := filepath.Abs(filepath.Join(dir, info.Name()))
	if err != nil {
		path = filepath.Join(dir, info.Name())
	}

	f := domain.LogFile{
		Name:    info.Name(),
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}

	created, part, err := ParseJournalName(info.Name())
	if err != nil {
		log.Debug().
			Err(err).
			Str("file", info.Name()).
			Msg("Failed to extract timestamp from filename, using modification time")
		f.Created = info.ModTime()
		return f
	}
	f.Created = created
	f.Part = part
	f.Timestamp = true
	return f
}

func checkDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: path is empty", ErrJournalDirMissing)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrJournalDirMissing, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrJournalDirMissing, dir)
	}
	return nil
}
