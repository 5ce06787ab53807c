package config

// Runtime setting keys persisted in the state store. They override the file
// configuration without a restart.
const (
	KeyRadius          = "overpass_radius"
	KeyMaxAreaKm2      = "max_area_km2"
	KeyOverpassTimeout = "overpass_server_timeout"
	KeyEditsPaused     = "edits_paused"
)
