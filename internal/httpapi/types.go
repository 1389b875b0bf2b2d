package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/canops/go-pcan-gateway/internal/tpms"
)

// initRequest mirrors the POST /api/init body. All fields are optional;
// unknown or missing names resolve to the documented defaults.
type initRequest struct {
	Channel  string `json:"channel"`
	Baudrate string `json:"baudrate"`
	IsFD     bool   `json:"is_fd"`
}

// writeRequest mirrors the POST /api/write body. Data is an array of
// 0..255 integers; id is unprefixed hex, case-insensitive.
type writeRequest struct {
	ID       string `json:"id"`
	Data     []int  `json:"data"`
	Extended bool   `json:"extended"`
	RTR      bool   `json:"rtr"`
}

type tpmsStartRequest struct {
	TireCount uint `json:"tire_count"`
}

type ackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type statusResponse struct {
	StatusCode string `json:"status_code"`
	StatusText string `json:"status_text"`
}

// frameMessage is the "message" object of a successful non-empty read.
// Data is emitted as an integer array, not a base64 string.
type frameMessage struct {
	ID      string        `json:"id"`
	MsgType uint8         `json:"msg_type"`
	Len     uint8         `json:"len"`
	Data    []int         `json:"data"`
	Parsed  *tpms.Reading `json:"parsed"`
}

type readResponse struct {
	Success     bool         `json:"success"`
	Message     frameMessage `json:"message"`
	TimestampUS uint64       `json:"timestamp_us"`
}

type tpmsStatusResponse struct {
	Success      bool   `json:"success"`
	IsCollecting bool   `json:"is_collecting"`
	TireCount    uint   `json:"tire_count"`
	Message      string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

func intSlice(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}
