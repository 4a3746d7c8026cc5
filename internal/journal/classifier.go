package journal

import (
	"fmt"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/rs/zerolog/log"
)

// constructor builds a payload from a record. State is the carried context
// of the current run; constructors may read or update it.
type constructor func(rec Record, st *State) (domain.Payload, error)

// classifiers maps discriminator values to event constructors. New kinds are
// added here only.
var classifiers = map[string]constructor{
	"Location":         locationFrom("Location"),
	"FSDJump":          locationFrom("FSDJump"),
	"CarrierJump":      locationFrom("CarrierJump"),
	"Scan":             bodyScanned,
	"FSSDiscoveryScan": systemScanned,
	"SAASignalsFound":  bodySignalsFrom("SAASignalsFound"),
	"FSSBodySignals":   bodySignalsFrom("FSSBodySignals"),
	"Docked":           docked,
	"Commander":        commanderFrom("Commander"),
	"LoadGame":         commanderFrom("LoadGame"),
	"Shutdown":         shutdown,
}

// Known reports whether a discriminator maps to an event kind
func Known(event string) bool {
	_, ok := classifiers[event]
	return ok
}

// Classifier turns journal lines into domain events for one processing run
type Classifier struct {
	state *State

	Parsed    int // Lines parsed as records
	Malformed int // Lines that failed to parse
	Ignored   int // Records with an unrecognized discriminator
	Rejected  int // Recognized records whose body could not be decoded
}

// NewClassifier creates a classifier with empty carried context
func NewClassifier() *Classifier {
	return &Classifier{state: &State{}}
}

// ResumeClassifier creates a classifier that carries context in st, so a
// session split over several runs keeps it. A nil st starts empty.
func ResumeClassifier(st *State) *Classifier {
	if st == nil {
		return NewClassifier()
	}
	return &Classifier{state: st}
}

// State returns a copy of the carried context
func (c *Classifier) State() State {
	return *c.state
}

// Classify maps a parsed record to its event payload. ok is false for
// unrecognized discriminators.
func (c *Classifier) Classify(rec Record) (payload domain.Payload, ok bool, err error) {
	build, found := classifiers[rec.Event]
	if !found {
		return nil, false, nil
	}
	payload, err = build(rec, c.state)
	if err != nil {
		return nil, true, err
	}
	return payload, true, nil
}

// Line parses and classifies one journal line. Failures are counted and
// logged at debug level, never returned.
func (c *Classifier) Line(file string, index int64, text string) (domain.Event, bool) {
	rec, err := ParseLine(text)
	if err != nil {
		c.Malformed++
		log.Debug().
			Str("file", file).
			Int64("line", index).
			Err(err).
			Msg("Skipping unparseable journal line")
		return domain.Event{}, false
	}
	c.Parsed++

	payload, known, err := c.Classify(rec)
	if !known {
		c.Ignored++
		return domain.Event{}, false
	}
	if err != nil {
		c.Rejected++
		log.Debug().
			Str("file", file).
			Int64("line", index).
			Str("event", rec.Event).
			Err(err).
			Msg("Skipping journal record")
		return domain.Event{}, false
	}

	return domain.Event{
		Kind:      payload.Kind(),
		Timestamp: rec.Timestamp,
		File:      file,
		Line:      index,
		Payload:   payload,
	}, true
}

// FilterMap classifies consecutive lines starting at line index start,
// dropping lines that produce no event. Order is preserved.
func FilterMap(c *Classifier, file string, start int64, lines []string) []domain.Event {
	events := make([]domain.Event, 0, len(lines))
	for i, text := range lines {
		if ev, ok := c.Line(file, start+int64(i), text); ok {
			events = append(events, ev)
		}
	}
	return events
}

type rawLocation struct {
	StarSystem    string          `json:"StarSystem"`
	SystemAddress *int64          `json:"SystemAddress"`
	StarPos       *domain.StarPos `json:"StarPos"`
	Body          string          `json:"Body"`
	Docked        bool            `json:"Docked"`
	StationName   string          `json:"StationName"`
	Population    *int64          `json:"Population"`
	JumpDist      *float64        `json:"JumpDist"`
}

func locationFrom(source string) constructor {
	return func(rec Record, st *State) (domain.Payload, error) {
		var raw rawLocation
		if err := rec.Decode(&raw); err != nil {
			return nil, err
		}
		if raw.StarSystem == "" {
			return nil, fmt.Errorf("%s without StarSystem", source)
		}
		loc := domain.Location{
			Source:        source,
			StarSystem:    raw.StarSystem,
			SystemAddress: raw.SystemAddress,
			StarPos:       raw.StarPos,
			Body:          raw.Body,
			Docked:        raw.Docked,
			StationName:   raw.StationName,
			Population:    raw.Population,
			JumpDist:      raw.JumpDist,
		}
		st.observeLocation(loc)
		return loc, nil
	}
}

type rawScan struct {
	BodyName              string   `json:"BodyName"`
	BodyID                *int64   `json:"BodyID"`
	ScanType              string   `json:"ScanType"`
	StarSystem            string   `json:"StarSystem"`
	SystemAddress         *int64   `json:"SystemAddress"`
	DistanceFromArrivalLS *float64 `json:"DistanceFromArrivalLS"`
	StarType              string   `json:"StarType"`
	PlanetClass           string   `json:"PlanetClass"`
	TerraformState        string   `json:"TerraformState"`
	Landable              *bool    `json:"Landable"`
	WasDiscovered         *bool    `json:"WasDiscovered"`
	WasMapped             *bool    `json:"WasMapped"`
}

func bodyScanned(rec Record, st *State) (domain.Payload, error) {
	var raw rawScan
	if err := rec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw.BodyName == "" {
		return nil, fmt.Errorf("Scan without BodyName")
	}
	scan := domain.BodyScanned{
		BodyName:              raw.BodyName,
		BodyID:                raw.BodyID,
		ScanType:              raw.ScanType,
		StarSystem:            raw.StarSystem,
		SystemAddress:         raw.SystemAddress,
		DistanceFromArrivalLS: raw.DistanceFromArrivalLS,
		StarType:              raw.StarType,
		PlanetClass:           raw.PlanetClass,
		TerraformState:        raw.TerraformState,
		Landable:              raw.Landable,
		WasDiscovered:         raw.WasDiscovered,
		WasMapped:             raw.WasMapped,
	}
	st.decorateScan(&scan)
	return scan, nil
}

type rawDiscoveryScan struct {
	SystemName    string   `json:"SystemName"`
	SystemAddress *int64   `json:"SystemAddress"`
	BodyCount     *int64   `json:"BodyCount"`
	NonBodyCount  *int64   `json:"NonBodyCount"`
	Progress      *float64 `json:"Progress"`
}

func systemScanned(rec Record, st *State) (domain.Payload, error) {
	var raw rawDiscoveryScan
	if err := rec.Decode(&raw); err != nil {
		return nil, err
	}
	name := raw.SystemName
	if name == "" && st.matches(raw.SystemAddress) {
		name = st.StarSystem
	}
	return domain.SystemScanned{
		SystemName:    name,
		SystemAddress: raw.SystemAddress,
		BodyCount:     raw.BodyCount,
		NonBodyCount:  raw.NonBodyCount,
		Progress:      raw.Progress,
	}, nil
}

type rawSignal struct {
	Type          string `json:"Type"`
	TypeLocalised string `json:"Type_Localised"`
	Count         int64  `json:"Count"`
}

type rawBodySignals struct {
	BodyName      string      `json:"BodyName"`
	BodyID        *int64      `json:"BodyID"`
	SystemAddress *int64      `json:"SystemAddress"`
	Signals       []rawSignal `json:"Signals"`
}

func bodySignalsFrom(source string) constructor {
	return func(rec Record, _ *State) (domain.Payload, error) {
		var raw rawBodySignals
		if err := rec.Decode(&raw); err != nil {
			return nil, err
		}
		signals := make([]domain.Signal, 0, len(raw.Signals))
		for _, s := range raw.Signals {
			name := s.TypeLocalised
			if name == "" {
				name = s.Type
			}
			signals = append(signals, domain.Signal{Type: name, Count: s.Count})
		}
		return domain.BodySignals{
			Source:        source,
			BodyName:      raw.BodyName,
			BodyID:        raw.BodyID,
			SystemAddress: raw.SystemAddress,
			Signals:       signals,
		}, nil
	}
}

type rawDocked struct {
	StationName   string `json:"StationName"`
	StationType   string `json:"StationType"`
	StarSystem    string `json:"StarSystem"`
	SystemAddress *int64 `json:"SystemAddress"`
	MarketID      *int64 `json:"MarketID"`
}

func docked(rec Record, _ *State) (domain.Payload, error) {
	var raw rawDocked
	if err := rec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw.StationName == "" {
		return nil, fmt.Errorf("Docked without StationName")
	}
	return domain.Docked{
		StationName:   raw.StationName,
		StationType:   raw.StationType,
		StarSystem:    raw.StarSystem,
		SystemAddress: raw.SystemAddress,
		MarketID:      raw.MarketID,
	}, nil
}

// rawCommander covers both Commander ("Name") and LoadGame ("Commander")
type rawCommander struct {
	Name      string `json:"Name"`
	Commander string `json:"Commander"`
	FID       string `json:"FID"`
	Ship      string `json:"Ship"`
	ShipName  string `json:"ShipName"`
	ShipIdent string `json:"ShipIdent"`
	Credits   *int64 `json:"Credits"`
	GameMode  string `json:"GameMode"`
}

func (r rawCommander) name() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Commander
}

func commanderFrom(source string) constructor {
	return func(rec Record, _ *State) (domain.Payload, error) {
		var raw rawCommander
		if err := rec.Decode(&raw); err != nil {
			return nil, err
		}
		if raw.name() == "" {
			return nil, fmt.Errorf("%s without commander name", source)
		}
		return domain.Commander{
			Source:    source,
			Name:      raw.name(),
			FID:       raw.FID,
			Ship:      raw.Ship,
			ShipName:  raw.ShipName,
			ShipIdent: raw.ShipIdent,
			Credits:   raw.Credits,
			GameMode:  raw.GameMode,
		}, nil
	}
}

func shutdown(Record, *State) (domain.Payload, error) {
	return domain.Shutdown{}, nil
}
