package journal

import (
	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/SteelMorgan/journal-ingest/internal/tail"
	"github.com/rs/zerolog/log"
)

type rawRank struct {
	Combat     int64 `json:"Combat"`
	Trade      int64 `json:"Trade"`
	Explore    int64 `json:"Explore"`
	Empire     int64 `json:"Empire"`
	Federation int64 `json:"Federation"`
	CQC        int64 `json:"CQC"`
}

type rawLoadout struct {
	Ship     string `json:"Ship"`
	ShipName string `json:"ShipName"`
}

// CommanderScanner assembles a commander snapshot from records fed newest
// first. The first value seen for each field wins.
type CommanderScanner struct {
	snap domain.CommanderSnapshot
	used bool
}

// Observe feeds one record and reports whether the snapshot is complete
func (s *CommanderScanner) Observe(rec Record) bool {
	switch rec.Event {
	case "Commander", "LoadGame":
		var raw rawCommander
		if rec.Decode(&raw) != nil {
			return s.snap.Complete()
		}
		s.setString(&s.snap.Name, raw.name(), rec)
		s.setString(&s.snap.FID, raw.FID, rec)
		s.setString(&s.snap.Ship, raw.Ship, rec)
		s.setString(&s.snap.ShipName, raw.ShipName, rec)
		if s.snap.Credits == nil && raw.Credits != nil {
			credits := *raw.Credits
			s.snap.Credits = &credits
			s.touch(rec)
		}
	case "Loadout":
		var raw rawLoadout
		if rec.Decode(&raw) != nil {
			return s.snap.Complete()
		}
		s.setString(&s.snap.Ship, raw.Ship, rec)
		s.setString(&s.snap.ShipName, raw.ShipName, rec)
	case "Rank":
		if s.snap.Ranks != nil {
			break
		}
		var raw rawRank
		if rec.Decode(&raw) != nil {
			return s.snap.Complete()
		}
		s.snap.Ranks = &domain.Ranks{
			Combat:     raw.Combat,
			Trade:      raw.Trade,
			Explore:    raw.Explore,
			Empire:     raw.Empire,
			Federation: raw.Federation,
			CQC:        raw.CQC,
		}
		s.touch(rec)
	}
	return s.snap.Complete()
}

func (s *CommanderScanner) setString(dst *string, value string, rec Record) {
	if *dst != "" || value == "" {
		return
	}
	*dst = value
	s.touch(rec)
}

// touch records the timestamp of the newest record that contributed a field
func (s *CommanderScanner) touch(rec Record) {
	if !s.used {
		s.snap.AsOf = rec.Timestamp
		s.used = true
	}
}

// Snapshot returns the assembled snapshot, or nil when no name was found
func (s *CommanderScanner) Snapshot() *domain.CommanderSnapshot {
	if s.snap.Name == "" {
		return nil
	}
	snap := s.snap
	return &snap
}

// ScanCommander walks files newest first and each file's lines last to
// first until the snapshot is complete. Unreadable files are skipped.
// files must be ordered oldest first, as returned by discovery.
func ScanCommander(files []domain.LogFile) *domain.CommanderSnapshot {
	var scanner CommanderScanner
	for i := len(files) - 1; i >= 0; i-- {
		res, err := tail.ReadFrom(files[i].Path, domain.Watermark{})
		if err != nil {
			log.Warn().Err(err).Str("file", files[i].Name).Msg("Skipping file in commander scan")
			continue
		}
		for j := len(res.Lines) - 1; j >= 0; j-- {
			rec, err := ParseLine(res.Lines[j])
			if err != nil {
				continue
			}
			if scanner.Observe(rec) {
				return scanner.Snapshot()
			}
		}
	}
	return scanner.Snapshot()
}
