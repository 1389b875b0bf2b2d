// Package tpms decodes the proprietary tire-pressure telemetry payload
// carried inside CAN frames and tracks the advisory collection session.
package tpms

import "math"

// MinPayload is the shortest payload carrying a full reading. Bytes
// past index 6 are unused.
const MinPayload = 7

// Reading is a decoded sensor packet. Values are final: pressure stays
// in raw sensor units, temperature and battery are converted and
// rounded to two decimals.
//
// Wire layout:
//
//	[0]   sensor id (tire position)
//	[1]   packet type
//	[2:4] pressure, big-endian
//	[4:6] temperature, byte 5 is the HIGH byte; (raw-8500)/100 °C
//	[6]   battery; (raw*10+2000)/1000 W
type Reading struct {
	SensorID     uint8   `json:"sensor_id"`
	PacketType   uint8   `json:"packet_type"`
	Pressure     uint16  `json:"pressure"`
	Temperature  float64 `json:"temperature"`
	BatteryWatts float64 `json:"battery_watts"`
}

// Decode extracts a reading from a payload. The second return is false
// when the payload is too short to carry one. Total and side-effect
// free: every ≥7-byte input decodes, all arithmetic is bounded by the
// byte ranges.
func Decode(p []byte) (Reading, bool) {
	if len(p) < MinPayload {
		return Reading{}, false
	}

	pressure := uint16(p[2])<<8 | uint16(p[3])

	// Temperature bytes arrive low-byte first.
	tempRaw := int32(p[5])<<8 | int32(p[4])
	temperature := float64(tempRaw-8500) / 100.0

	batteryMilliwatts := int32(p[6])*10 + 2000

	return Reading{
		SensorID:     p[0],
		PacketType:   p[1],
		Pressure:     pressure,
		Temperature:  round2(temperature),
		BatteryWatts: round2(float64(batteryMilliwatts) / 1000.0),
	}, true
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
