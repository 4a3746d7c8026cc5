package domain

import "time"

// SnapshotKind names a whole-state payload
type SnapshotKind string

const (
	SnapshotCommander SnapshotKind = "commander"
	SnapshotStatus    SnapshotKind = "status"
	SnapshotNavRoute  SnapshotKind = "navroute"
)

// Ranks holds commander ranks as reported by the Rank record
type Ranks struct {
	Combat     int64 `json:"combat" msgpack:"combat"`
	Trade      int64 `json:"trade" msgpack:"trade"`
	Explore    int64 `json:"explore" msgpack:"explore"`
	Empire     int64 `json:"empire" msgpack:"empire"`
	Federation int64 `json:"federation" msgpack:"federation"`
	CQC        int64 `json:"cqc" msgpack:"cqc"`
}

// CommanderSnapshot is the commander identity assembled from journal history
type CommanderSnapshot struct {
	Name     string    `json:"name" msgpack:"name"`
	FID      string    `json:"fid,omitempty" msgpack:"fid,omitempty"`
	Ship     string    `json:"ship,omitempty" msgpack:"ship,omitempty"`
	ShipName string    `json:"ship_name,omitempty" msgpack:"ship_name,omitempty"`
	Credits  *int64    `json:"credits,omitempty" msgpack:"credits,omitempty"`
	Ranks    *Ranks    `json:"ranks,omitempty" msgpack:"ranks,omitempty"`
	AsOf     time.Time `json:"as_of" msgpack:"as_of"` // Timestamp of the newest record used
}

// Complete reports whether every required field is known
func (c *CommanderSnapshot) Complete() bool {
	return c.Name != "" && c.FID != "" && c.Ship != "" && c.Credits != nil && c.Ranks != nil
}

// Fuel is the fuel block of Status.json
type Fuel struct {
	FuelMain      float64 `json:"FuelMain" msgpack:"fuel_main"`
	FuelReservoir float64 `json:"FuelReservoir" msgpack:"fuel_reservoir"`
}

// Status mirrors Status.json
type Status struct {
	Timestamp  time.Time `json:"timestamp" msgpack:"timestamp"`
	Event      string    `json:"event" msgpack:"event"`
	Flags      uint64    `json:"Flags" msgpack:"flags"`
	Flags2     uint64    `json:"Flags2,omitempty" msgpack:"flags2,omitempty"`
	Pips       []int     `json:"Pips,omitempty" msgpack:"pips,omitempty"`
	FireGroup  *int      `json:"FireGroup,omitempty" msgpack:"fire_group,omitempty"`
	GuiFocus   *int      `json:"GuiFocus,omitempty" msgpack:"gui_focus,omitempty"`
	Fuel       *Fuel     `json:"Fuel,omitempty" msgpack:"fuel,omitempty"`
	Cargo      *float64  `json:"Cargo,omitempty" msgpack:"cargo,omitempty"`
	LegalState string    `json:"LegalState,omitempty" msgpack:"legal_state,omitempty"`
	Latitude   *float64  `json:"Latitude,omitempty" msgpack:"latitude,omitempty"`
	Longitude  *float64  `json:"Longitude,omitempty" msgpack:"longitude,omitempty"`
	Altitude   *float64  `json:"Altitude,omitempty" msgpack:"altitude,omitempty"`
	BodyName   string    `json:"BodyName,omitempty" msgpack:"body_name,omitempty"`
}

// RouteHop is one jump of a plotted route
type RouteHop struct {
	StarSystem    string  `json:"StarSystem" msgpack:"star_system"`
	SystemAddress int64   `json:"SystemAddress" msgpack:"system_address"`
	StarPos       StarPos `json:"StarPos" msgpack:"star_pos"`
	StarClass     string  `json:"StarClass" msgpack:"star_class"`
}

// NavRoute mirrors NavRoute.json
type NavRoute struct {
	Timestamp time.Time  `json:"timestamp" msgpack:"timestamp"`
	Event     string     `json:"event" msgpack:"event"`
	Route     []RouteHop `json:"Route" msgpack:"route"`
}
