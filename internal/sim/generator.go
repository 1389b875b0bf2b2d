package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/canops/go-pcan-gateway/internal/device"
	"github.com/canops/go-pcan-gateway/internal/logging"
)

// tpmsBaseID is the CAN id the generated sensor packets use; the sensor
// id rides in the payload, not the identifier.
const tpmsBaseID = 0x300

// StartGenerator emits plausible TPMS sensor packets into the
// simulator's receive queue every interval, cycling through tires
// sensors. Packets only appear while the simulated driver is
// initialized.
func StartGenerator(ctx context.Context, d *Device, tires int, interval time.Duration, wg *sync.WaitGroup) {
	if tires <= 0 || interval <= 0 {
		return
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer logging.L().Info("sim_generator_end")
		t := time.NewTicker(interval)
		defer t.Stop()
		sensor := 0
		for {
			select {
			case <-t.C:
				d.Inject(tpmsPacket(rng, uint8(sensor+1)))
				sensor = (sensor + 1) % tires
			case <-ctx.Done():
				return
			}
		}
	}()
}

// tpmsPacket builds one sensor payload: pressure around 2200 raw units,
// temperature around 25 °C (raw 8500 = 0 °C), battery around 3 W.
func tpmsPacket(rng *rand.Rand, sensor uint8) device.Msg {
	pressure := uint16(2200 + rng.Intn(100))
	tempRaw := uint16(11000 + rng.Intn(500))
	battery := uint8(80 + rng.Intn(40))

	var m device.Msg
	m.ID = tpmsBaseID + uint32(sensor)
	m.Type = device.MsgStandard
	m.LEN = 8
	m.Data[0] = sensor
	m.Data[1] = 0x01
	m.Data[2] = byte(pressure >> 8)
	m.Data[3] = byte(pressure)
	m.Data[4] = byte(tempRaw) // low byte first on the wire
	m.Data[5] = byte(tempRaw >> 8)
	m.Data[6] = battery
	return m
}
