package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

// cfgSim drives the simulated buses: one sensor per bus.
const cfgSim = `{
  "hal": {
    "devices": [
      {
        "id": "o2-tank",
        "type": "sen0322",
        "bus_ref": {"type": "i2c", "id": "i2c0"},
        "params": {"samples": 3, "smoothing": "ema", "alpha": 0.3, "period_ms": 2000}
      },
      {
        "id": "o2-room",
        "type": "sen0322",
        "bus_ref": {"type": "i2c", "id": "i2c1"},
        "params": {"samples": 1, "smoothing": "none", "period_ms": 5000}
      }
    ]
  },
  "metrics": {"listen": ":9108"},
  "bridge": {"broker": "", "client_id": "o2hal-sim", "prefix": "o2hal", "qos": 0},
  "heartbeat": {"interval": 10}
}`

// cfgPi is a Raspberry Pi with one sensor on /dev/i2c-1.
const cfgPi = `{
  "hal": {
    "devices": [
      {
        "id": "o2",
        "type": "sen0322",
        "bus_ref": {"type": "i2c", "id": "i2c1"},
        "params": {"addr": 115, "samples": 3, "begin_on_init": true, "period_ms": 5000}
      }
    ]
  },
  "metrics": {"listen": ":9108"},
  "bridge": {"broker": "tcp://localhost:1883", "client_id": "o2hal", "prefix": "o2hal", "qos": 1},
  "heartbeat": {"interval": 30}
}`

var embeddedConfigs = map[string][]byte{
	"sim": []byte(cfgSim),
	"pi":  []byte(cfgPi),
}
