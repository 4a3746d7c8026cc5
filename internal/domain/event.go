package domain

import "time"

// EventKind names one variant of the closed DomainEvent set
type EventKind string

const (
	KindLocation      EventKind = "location"
	KindBodyScanned   EventKind = "body_scanned"
	KindSystemScanned EventKind = "system_scanned"
	KindBodySignals   EventKind = "body_signals"
	KindDocked        EventKind = "docked"
	KindCommander     EventKind = "commander"
	KindShutdown      EventKind = "shutdown"
)

// AllKinds lists every EventKind. Adding a kind means adding it here.
var AllKinds = []EventKind{
	KindLocation,
	KindBodyScanned,
	KindSystemScanned,
	KindBodySignals,
	KindDocked,
	KindCommander,
	KindShutdown,
}

// Payload is implemented by every event variant
type Payload interface {
	Kind() EventKind
}

// Event is one classified journal record
type Event struct {
	Kind      EventKind `json:"kind" msgpack:"kind"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	File      string    `json:"file" msgpack:"file"`
	Line      int64     `json:"line" msgpack:"line"` // 0-based line index within File
	Payload   Payload   `json:"data" msgpack:"data"`
}

// StarPos is a galactic coordinate triple in light years
type StarPos [3]float64

// Location is produced by Location, FSDJump and CarrierJump records
type Location struct {
	Source        string   `json:"source" msgpack:"source"` // Discriminator that produced it
	StarSystem    string   `json:"star_system" msgpack:"star_system"`
	SystemAddress *int64   `json:"system_address,omitempty" msgpack:"system_address,omitempty"`
	StarPos       *StarPos `json:"star_pos,omitempty" msgpack:"star_pos,omitempty"`
	Body          string   `json:"body,omitempty" msgpack:"body,omitempty"`
	Docked        bool     `json:"docked" msgpack:"docked"`
	StationName   string   `json:"station_name,omitempty" msgpack:"station_name,omitempty"`
	Population    *int64   `json:"population,omitempty" msgpack:"population,omitempty"`
	JumpDist      *float64 `json:"jump_dist,omitempty" msgpack:"jump_dist,omitempty"`
}

func (Location) Kind() EventKind { return KindLocation }

// BodyScanned is produced by Scan records
type BodyScanned struct {
	BodyName              string   `json:"body_name" msgpack:"body_name"`
	BodyID                *int64   `json:"body_id,omitempty" msgpack:"body_id,omitempty"`
	ScanType              string   `json:"scan_type,omitempty" msgpack:"scan_type,omitempty"`
	StarSystem            string   `json:"star_system,omitempty" msgpack:"star_system,omitempty"`
	SystemAddress         *int64   `json:"system_address,omitempty" msgpack:"system_address,omitempty"`
	StarPos               *StarPos `json:"star_pos,omitempty" msgpack:"star_pos,omitempty"`
	DistanceFromArrivalLS *float64 `json:"distance_from_arrival_ls,omitempty" msgpack:"distance_from_arrival_ls,omitempty"`
	StarType              string   `json:"star_type,omitempty" msgpack:"star_type,omitempty"`
	PlanetClass           string   `json:"planet_class,omitempty" msgpack:"planet_class,omitempty"`
	TerraformState        string   `json:"terraform_state,omitempty" msgpack:"terraform_state,omitempty"`
	Landable              *bool    `json:"landable,omitempty" msgpack:"landable,omitempty"`
	WasDiscovered         *bool    `json:"was_discovered,omitempty" msgpack:"was_discovered,omitempty"`
	WasMapped             *bool    `json:"was_mapped,omitempty" msgpack:"was_mapped,omitempty"`
}

func (BodyScanned) Kind() EventKind { return KindBodyScanned }

// SystemScanned is produced by FSSDiscoveryScan records
type SystemScanned struct {
	SystemName    string   `json:"system_name" msgpack:"system_name"`
	SystemAddress *int64   `json:"system_address,omitempty" msgpack:"system_address,omitempty"`
	BodyCount     *int64   `json:"body_count,omitempty" msgpack:"body_count,omitempty"`
	NonBodyCount  *int64   `json:"non_body_count,omitempty" msgpack:"non_body_count,omitempty"`
	Progress      *float64 `json:"progress,omitempty" msgpack:"progress,omitempty"`
}

func (SystemScanned) Kind() EventKind { return KindSystemScanned }

// Signal is one entry of a body signal list
type Signal struct {
	Type  string `json:"type" msgpack:"type"`
	Count int64  `json:"count" msgpack:"count"`
}

// BodySignals is produced by SAASignalsFound and FSSBodySignals records
type BodySignals struct {
	Source        string   `json:"source" msgpack:"source"`
	BodyName      string   `json:"body_name" msgpack:"body_name"`
	BodyID        *int64   `json:"body_id,omitempty" msgpack:"body_id,omitempty"`
	SystemAddress *int64   `json:"system_address,omitempty" msgpack:"system_address,omitempty"`
	Signals       []Signal `json:"signals" msgpack:"signals"`
}

func (BodySignals) Kind() EventKind { return KindBodySignals }

// Docked is produced by Docked records
type Docked struct {
	StationName   string `json:"station_name" msgpack:"station_name"`
	StationType   string `json:"station_type,omitempty" msgpack:"station_type,omitempty"`
	StarSystem    string `json:"star_system,omitempty" msgpack:"star_system,omitempty"`
	SystemAddress *int64 `json:"system_address,omitempty" msgpack:"system_address,omitempty"`
	MarketID      *int64 `json:"market_id,omitempty" msgpack:"market_id,omitempty"`
}

func (Docked) Kind() EventKind { return KindDocked }

// Commander is produced by Commander and LoadGame records
type Commander struct {
	Source    string `json:"source" msgpack:"source"`
	Name      string `json:"name" msgpack:"name"`
	FID       string `json:"fid,omitempty" msgpack:"fid,omitempty"`
	Ship      string `json:"ship,omitempty" msgpack:"ship,omitempty"`
	ShipName  string `json:"ship_name,omitempty" msgpack:"ship_name,omitempty"`
	ShipIdent string `json:"ship_ident,omitempty" msgpack:"ship_ident,omitempty"`
	Credits   *int64 `json:"credits,omitempty" msgpack:"credits,omitempty"`
	GameMode  string `json:"game_mode,omitempty" msgpack:"game_mode,omitempty"`
}

func (Commander) Kind() EventKind { return KindCommander }

// Shutdown is produced when the game exits cleanly
type Shutdown struct{}

func (Shutdown) Kind() EventKind { return KindShutdown }
