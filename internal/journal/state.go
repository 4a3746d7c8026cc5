package journal

import "github.com/SteelMorgan/journal-ingest/internal/domain"

// State is the context carried across records of one session: a backlog
// run, or a live tail session spanning many steps. It is owned by that
// session and never shared between sessions.
type State struct {
	StarSystem    string
	SystemAddress *int64
	StarPos       *domain.StarPos
}

// Clone returns an independent copy. Pointer fields are replaced, never
// mutated, so they may be shared.
func (s *State) Clone() *State {
	if s == nil {
		return &State{}
	}
	c := *s
	return &c
}

// Known reports whether a location has been observed in this run
func (s *State) Known() bool {
	return s.StarSystem != ""
}

func (s *State) observeLocation(loc domain.Location) {
	s.StarSystem = loc.StarSystem
	s.SystemAddress = loc.SystemAddress
	s.StarPos = loc.StarPos
}

// matches reports whether a record's system address refers to the carried
// system. An absent address matches.
func (s *State) matches(addr *int64) bool {
	if !s.Known() {
		return false
	}
	if addr == nil || s.SystemAddress == nil {
		return true
	}
	return *addr == *s.SystemAddress
}

func (s *State) decorateScan(scan *domain.BodyScanned) {
	if !s.matches(scan.SystemAddress) {
		return
	}
	if scan.StarSystem == "" {
		scan.StarSystem = s.StarSystem
	}
	if scan.SystemAddress == nil {
		scan.SystemAddress = s.SystemAddress
	}
	if scan.StarPos == nil {
		scan.StarPos = s.StarPos
	}
}
