package client

import "time"

// ProcessInfo is the response of GET /process.
type ProcessInfo struct {
	Running bool      `json:"running"`
	Name    string    `json:"name"`
	PID     int32     `json:"pid,omitempty"`
	Exe     string    `json:"exe,omitempty"`
	Since   time.Time `json:"since,omitzero"`
}

// MessageRequest is the JSON body of POST /messages.
type MessageRequest struct {
	Data []int `json:"data"`
}

// Basic holds the scalar part of a game snapshot.
type Basic struct {
	CurrentModule uint16  `json:"current_module"`
	WorldMapType  uint16  `json:"world_map_type"`
	ZolomCoords   *uint32 `json:"zolom_coords"`
}

// WorldModel is one entity on the world map.
type WorldModel struct {
	Index         int    `json:"index"`
	X             int32  `json:"x"`
	Y             int32  `json:"y"`
	Z             int32  `json:"z"`
	Direction     uint16 `json:"direction"`
	ModelID       uint8  `json:"model_id"`
	WalkmeshType  uint8  `json:"walkmesh_type"`
	LocationID    uint16 `json:"location_id"`
	ChocoboTracks bool   `json:"chocobo_tracks"`
}

// GameData is the response of GET /game.
type GameData struct {
	Basic             Basic        `json:"basic"`
	WorldCurrentModel WorldModel   `json:"world_current_model"`
	WorldModels       []WorldModel `json:"world_models"`
}

// UpdateStatus is the response of GET /update.
type UpdateStatus struct {
	ID              string    `json:"id"`
	State           string    `json:"state"`
	CurrentVersion  string    `json:"current_version"`
	RemoteVersion   string    `json:"remote_version,omitempty"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	ContentLength   int64     `json:"content_length,omitempty"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	FinishedAt      time.Time `json:"finished_at,omitzero"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
