package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	httpAddr        string
	backend         string
	serialDev       string
	serialBaud      int
	serialReadTO    time.Duration
	canIf           string
	simTires        int
	simInterval     time.Duration
	streamListen    string
	streamPoll      time.Duration
	hubBuffer       int
	hubPolicy       string
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	httpAddr := flag.String("listen", ":5001", "HTTP API listen address")
	backend := flag.String("backend", "sim", "Adapter backend: sim|slcan|socketcan")
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path (when --backend=slcan)")
	serialBaud := flag.Int("serial-baud", 115200, "Serial port baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	simTires := flag.Int("sim-tires", 4, "Simulated TPMS sensors (when --backend=sim; 0 disables the generator)")
	simInterval := flag.Duration("sim-interval", time.Second, "Interval between simulated sensor packets")
	streamListen := flag.String("stream-listen", "", "TCP frame stream listen address (e.g., :20000); empty disables")
	streamPoll := flag.Duration("stream-poll-interval", 2*time.Millisecond, "Receive queue poll interval for the frame stream")
	hubBuf := flag.Int("hub-buffer", 512, "Per-client stream buffer (frames)")
	hubPolicy := flag.String("hub-policy", "drop", "Stream backpressure policy: drop|kick")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous stream clients (0 = unlimited)")
	handshakeTO := flag.Duration("handshake-timeout", 3*time.Second, "Stream client handshake timeout")
	clientReadTO := flag.Duration("client-read-timeout", 60*time.Second, "Per-connection stream read deadline")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement of the HTTP API")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default pcan-gateway-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.httpAddr = *httpAddr
	cfg.backend = *backend
	cfg.serialDev = *serialDev
	cfg.serialBaud = *serialBaud
	cfg.serialReadTO = *serialReadTO
	cfg.canIf = *canIf
	cfg.simTires = *simTires
	cfg.simInterval = *simInterval
	cfg.streamListen = *streamListen
	cfg.streamPoll = *streamPoll
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.maxClients = *maxClients
	cfg.handshakeTO = *handshakeTO
	cfg.clientReadTO = *clientReadTO
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners, only checks values.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "sim", "slcan", "socketcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.httpAddr == "" {
		return errors.New("listen address must not be empty")
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.serialBaud <= 0 {
		return fmt.Errorf("serial-baud must be > 0 (got %d)", c.serialBaud)
	}
	if c.serialReadTO <= 0 {
		return errors.New("serial-read-timeout must be > 0")
	}
	if c.simTires < 0 {
		return fmt.Errorf("sim-tires must be >= 0 (got %d)", c.simTires)
	}
	if c.simInterval <= 0 {
		return errors.New("sim-interval must be > 0")
	}
	if c.streamPoll <= 0 {
		return errors.New("stream-poll-interval must be > 0")
	}
	if c.handshakeTO <= 0 {
		return errors.New("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return errors.New("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return errors.New("max-clients must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps PCAN_GATEWAY_* environment variables to config
// fields unless a corresponding flag was explicitly set. Empty values
// are ignored. Durations accept Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	num := func(flagName, env string, min int, dst *int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= min {
				*dst = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}

	str("listen", "PCAN_GATEWAY_LISTEN", &c.httpAddr)
	str("backend", "PCAN_GATEWAY_BACKEND", &c.backend)
	str("serial", "PCAN_GATEWAY_SERIAL", &c.serialDev)
	num("serial-baud", "PCAN_GATEWAY_SERIAL_BAUD", 1, &c.serialBaud)
	dur("serial-read-timeout", "PCAN_GATEWAY_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("can-if", "PCAN_GATEWAY_IF", &c.canIf)
	num("sim-tires", "PCAN_GATEWAY_SIM_TIRES", 0, &c.simTires)
	dur("sim-interval", "PCAN_GATEWAY_SIM_INTERVAL", &c.simInterval)
	dur("stream-poll-interval", "PCAN_GATEWAY_STREAM_POLL_INTERVAL", &c.streamPoll)
	num("hub-buffer", "PCAN_GATEWAY_HUB_BUFFER", 1, &c.hubBuffer)
	str("hub-policy", "PCAN_GATEWAY_HUB_POLICY", &c.hubPolicy)
	num("max-clients", "PCAN_GATEWAY_MAX_CLIENTS", 0, &c.maxClients)
	dur("handshake-timeout", "PCAN_GATEWAY_HANDSHAKE_TIMEOUT", &c.handshakeTO)
	dur("client-read-timeout", "PCAN_GATEWAY_CLIENT_READ_TIMEOUT", &c.clientReadTO)
	str("log-format", "PCAN_GATEWAY_LOG_FORMAT", &c.logFormat)
	str("log-level", "PCAN_GATEWAY_LOG_LEVEL", &c.logLevel)
	dur("log-metrics-interval", "PCAN_GATEWAY_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	str("mdns-name", "PCAN_GATEWAY_MDNS_NAME", &c.mdnsName)

	// These two may be intentionally set to empty / false, so look at
	// the raw value instead of skipping blanks.
	if _, ok := set["stream-listen"]; !ok {
		if v, ok := get("PCAN_GATEWAY_STREAM_LISTEN"); ok {
			c.streamListen = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("PCAN_GATEWAY_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("PCAN_GATEWAY_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	return firstErr
}
