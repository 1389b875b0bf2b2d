package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/canops/go-pcan-gateway/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	DeviceRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_rx_frames_total",
		Help: "Total CAN frames read from the adapter receive queue.",
	})
	DeviceTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_tx_frames_total",
		Help: "Total CAN frames written to the adapter.",
	})
	DeviceEmptyPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_rx_empty_polls_total",
		Help: "Total reads that found the adapter receive queue empty.",
	})
	DeviceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_errors_total",
		Help: "Non-OK adapter status codes by operation.",
	}, []string{"op"})
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "API requests by endpoint.",
	}, []string{"endpoint"})
	TpmsReadings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tpms_readings_total",
		Help: "Total TPMS payloads decoded into readings.",
	})
	TpmsShortPayloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tpms_short_payloads_total",
		Help: "Total payloads too short to carry a TPMS reading.",
	})
	StreamTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_tx_frames_total",
		Help: "Total frames sent to TCP stream clients.",
	})
	StreamRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_rx_frames_total",
		Help: "Total frames received from TCP stream clients.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total frames dropped by the hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected by the backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total stream connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of connected stream clients.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Operation label constants (stable values to bound cardinality).
const (
	OpInitialize   = "initialize"
	OpUninitialize = "uninitialize"
	OpGetStatus    = "get_status"
	OpRead         = "read"
	OpWrite        = "write"
	OpStreamRead   = "stream_read"
	OpStreamWrite  = "stream_write"
	OpStreamTxFull = "stream_tx_overflow"
	OpSerialRead   = "serial_read"
	OpSerialWrite  = "serial_write"
)

// StartHTTP serves Prometheus metrics at /metrics plus a /ready probe on addr.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters so the periodic metrics logger does not have to
// scrape Prometheus in-process.
var (
	localDeviceRx   uint64
	localDeviceTx   uint64
	localEmptyPolls uint64
	localDeviceErrs uint64
	localHTTP       uint64
	localTpms       uint64
	localTpmsShort  uint64
	localStreamRx   uint64
	localStreamTx   uint64
	localHubDrop    uint64
	localHubKick    uint64
	localHubReject  uint64
	localClients    uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	DeviceRx      uint64
	DeviceTx      uint64
	EmptyPolls    uint64
	DeviceErrors  uint64 // sum across operation labels
	HTTPRequests  uint64 // sum across endpoint labels
	TpmsReadings  uint64
	TpmsShort     uint64
	StreamRx      uint64
	StreamTx      uint64
	HubDrops      uint64
	HubKicks      uint64
	HubRejects    uint64
	StreamClients uint64
}

func Snap() Snapshot {
	return Snapshot{
		DeviceRx:      atomic.LoadUint64(&localDeviceRx),
		DeviceTx:      atomic.LoadUint64(&localDeviceTx),
		EmptyPolls:    atomic.LoadUint64(&localEmptyPolls),
		DeviceErrors:  atomic.LoadUint64(&localDeviceErrs),
		HTTPRequests:  atomic.LoadUint64(&localHTTP),
		TpmsReadings:  atomic.LoadUint64(&localTpms),
		TpmsShort:     atomic.LoadUint64(&localTpmsShort),
		StreamRx:      atomic.LoadUint64(&localStreamRx),
		StreamTx:      atomic.LoadUint64(&localStreamTx),
		HubDrops:      atomic.LoadUint64(&localHubDrop),
		HubKicks:      atomic.LoadUint64(&localHubKick),
		HubRejects:    atomic.LoadUint64(&localHubReject),
		StreamClients: atomic.LoadUint64(&localClients),
	}
}

// Wrapper helpers to keep call sites simple.

func IncDeviceRx() {
	DeviceRxFrames.Inc()
	atomic.AddUint64(&localDeviceRx, 1)
}

func IncDeviceTx() {
	DeviceTxFrames.Inc()
	atomic.AddUint64(&localDeviceTx, 1)
}

func IncEmptyPoll() {
	DeviceEmptyPolls.Inc()
	atomic.AddUint64(&localEmptyPolls, 1)
}

func IncDeviceError(op string) {
	DeviceErrors.WithLabelValues(op).Inc()
	atomic.AddUint64(&localDeviceErrs, 1)
}

func IncHTTPRequest(endpoint string) {
	HTTPRequests.WithLabelValues(endpoint).Inc()
	atomic.AddUint64(&localHTTP, 1)
}

func IncTpmsReading() {
	TpmsReadings.Inc()
	atomic.AddUint64(&localTpms, 1)
}

func IncTpmsShort() {
	TpmsShortPayloads.Inc()
	atomic.AddUint64(&localTpmsShort, 1)
}

func IncStreamRx() {
	StreamRxFrames.Inc()
	atomic.AddUint64(&localStreamRx, 1)
}

func AddStreamTx(n int) {
	StreamTxFrames.Add(float64(n))
	atomic.AddUint64(&localStreamTx, uint64(n))
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetStreamClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localClients, uint64(n))
}

// InitBuildInfo sets the build info gauge; call once at startup. Common
// operation label series are pre-registered so the first error does not pay
// registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, op := range []string{
		OpInitialize, OpUninitialize, OpGetStatus, OpRead, OpWrite,
		OpStreamRead, OpStreamWrite, OpStreamTxFull, OpSerialRead, OpSerialWrite,
	} {
		DeviceErrors.WithLabelValues(op).Add(0)
	}
}

// SetReadinessFunc registers the function backing /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // not set yet: report ready so the endpoint doesn't flap
		return true
	}
	return fn()
}
