// Package httpapi is the request/response surface over the channel
// session: a thin JSON shim that serializes core results and maps the
// session's error kinds onto HTTP status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/canops/go-pcan-gateway/internal/can"
	"github.com/canops/go-pcan-gateway/internal/channel"
	"github.com/canops/go-pcan-gateway/internal/codec"
	"github.com/canops/go-pcan-gateway/internal/device"
	"github.com/canops/go-pcan-gateway/internal/logging"
	"github.com/canops/go-pcan-gateway/internal/metrics"
	"github.com/canops/go-pcan-gateway/internal/tpms"
)

const banner = "PCAN gateway API server is running. Use the /api endpoints to interact with the CAN bus."

// Server exposes one channel session and one collection session over
// HTTP.
type Server struct {
	mux  *http.ServeMux
	sess *channel.Session
	coll *tpms.Session
	log  *slog.Logger
}

func NewServer(sess *channel.Session, coll *tpms.Session, log *slog.Logger) *Server {
	if log == nil {
		log = logging.L()
	}
	s := &Server{
		mux:  http.NewServeMux(),
		sess: sess,
		coll: coll,
		log:  log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/api/init", s.handleInit)
	s.mux.HandleFunc("/api/release", s.handleRelease)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/read", s.handleRead)
	s.mux.HandleFunc("/api/write", s.handleWrite)
	s.mux.HandleFunc("/api/tpms/status", s.handleTpmsStatus)
	s.mux.HandleFunc("/api/tpms/start", s.handleTpmsStart)
	s.mux.HandleFunc("/api/tpms/stop", s.handleTpmsStop)
}

// httpStatusFor maps the session's error kinds onto HTTP codes. Device
// failures are 500 with the decoded vendor text; a missing initialize
// is a conflict, not a server fault.
func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, codec.ErrInvalidFormat):
		return http.StatusBadRequest
	case errors.Is(err, channel.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, channel.ErrNotInitialized):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	metrics.IncHTTPRequest("index")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, banner)
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metrics.IncHTTPRequest("init")
	var req initRequest
	// An absent or empty body means defaults; malformed JSON is an error.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	res, err := s.sess.Initialize(channel.Config{
		Channel:  req.Channel,
		Baudrate: req.Baudrate,
		FD:       req.IsFD,
	})
	if err != nil {
		s.log.Warn("init_failed", "channel", req.Channel, "baudrate", req.Baudrate, "error", err)
		writeError(w, httpStatusFor(err), err.Error())
		return
	}
	s.log.Info("channel_initialized", "handle", fmt.Sprintf("%02Xh", uint16(res.Handle)), "baudrate", fmt.Sprintf("%04Xh", uint16(res.Baudrate)))
	writeJSON(w, http.StatusOK, ackResponse{
		Success: true,
		Message: fmt.Sprintf("Channel %02Xh initialized successfully at the specified baudrate.", uint16(res.Handle)),
	})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metrics.IncHTTPRequest("release")
	if err := s.sess.Release(); err != nil {
		s.log.Warn("release_failed", "error", err)
		writeError(w, httpStatusFor(err), err.Error())
		return
	}
	s.log.Info("channel_released")
	writeJSON(w, http.StatusOK, ackResponse{Success: true, Message: "Channel released."})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metrics.IncHTTPRequest("status")
	rep := s.sess.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		StatusCode: rep.CodeString(),
		StatusText: rep.Text,
	})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metrics.IncHTTPRequest("read")
	res, err := s.sess.Read()
	if err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}
	if res.Empty {
		writeJSON(w, http.StatusOK, ackResponse{Success: true, Message: "Receive queue is empty."})
		return
	}
	fr := res.Frame
	payload := fr.Payload()
	var parsed *tpms.Reading
	if reading, ok := tpms.Decode(payload); ok {
		parsed = &reading
		metrics.IncTpmsReading()
	} else if len(payload) > 0 {
		metrics.IncTpmsShort()
	}
	writeJSON(w, http.StatusOK, readResponse{
		Success: true,
		Message: frameMessage{
			ID:      codec.FormatID(fr.ID),
			MsgType: wireMsgType(fr),
			Len:     fr.Len,
			Data:    intSlice(payload),
			Parsed:  parsed,
		},
		TimestampUS: res.TimestampUS,
	})
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metrics.IncHTTPRequest("write")
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	data := make([]byte, len(req.Data))
	for i, v := range req.Data {
		if v < 0 || v > 255 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request format: data[%d]=%d is out of byte range", i, v))
			return
		}
		data[i] = byte(v)
	}
	err := s.sess.Write(codec.TxRequest{
		IDHex:    req.ID,
		Data:     data,
		Extended: req.Extended,
		RTR:      req.RTR,
	})
	if err != nil {
		s.log.Warn("write_failed", "id", req.ID, "error", err)
		writeError(w, httpStatusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Success: true, Message: "Message sent successfully."})
}

func (s *Server) handleTpmsStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metrics.IncHTTPRequest("tpms_status")
	st := s.coll.State()
	writeJSON(w, http.StatusOK, tpmsStatusResponse{
		Success:      true,
		IsCollecting: st.Active,
		TireCount:    st.TireCount,
	})
}

func (s *Server) handleTpmsStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metrics.IncHTTPRequest("tpms_start")
	var req tpmsStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	s.coll.Start(req.TireCount)
	s.log.Info("tpms_collection_started", "tire_count", req.TireCount)
	st := s.coll.State()
	writeJSON(w, http.StatusOK, tpmsStatusResponse{
		Success:      true,
		IsCollecting: st.Active,
		TireCount:    st.TireCount,
		Message:      "TPMS collection started.",
	})
}

func (s *Server) handleTpmsStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metrics.IncHTTPRequest("tpms_stop")
	s.coll.Stop()
	s.log.Info("tpms_collection_stopped")
	st := s.coll.State()
	writeJSON(w, http.StatusOK, tpmsStatusResponse{
		Success:      true,
		IsCollecting: st.Active,
		TireCount:    st.TireCount,
		Message:      "TPMS collection stopped.",
	})
}

// wireMsgType reports the adapter message-type byte for a frame.
func wireMsgType(fr can.Frame) uint8 {
	t := device.MsgStandard
	if fr.Extended {
		t |= device.MsgExtended
	}
	if fr.RTR {
		t |= device.MsgRTR
	}
	if fr.FD {
		t |= device.MsgFDFlag
	}
	return uint8(t)
}
