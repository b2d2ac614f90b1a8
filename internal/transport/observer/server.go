package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/observerproto"
	"voxelrule.ai/internal/protocol"
	"voxelrule.ai/internal/sim/encoding"
	"voxelrule.ai/internal/sim/engine"
	"voxelrule.ai/internal/telemetry"
)

type Config struct {
	FrameRateHz  float64
	FrameBurst   int
	MaxObservers int
	Buffer       int

	// Retain is how long a finished run stays subscribable.
	Retain time.Duration
}

func ConfigFromTuning(t model.Tuning) Config {
	return Config{
		FrameRateHz:  t.FrameRateHz,
		FrameBurst:   t.FrameBurst,
		MaxObservers: t.MaxObservers,
		Buffer:       t.ObserverBuffer,
		Retain:       time.Duration(t.ObserverRetainSec) * time.Second,
	}
}

// Server fans the frames of live runs out to websocket observers.
type Server struct {
	cfg     Config
	palette *model.Palette
	log     *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	now      func() time.Time

	mu       sync.Mutex
	runs     map[string]*feed
	sessions int
}

type feed struct {
	info  observerproto.RunInfo
	last  []byte
	end   []byte
	ended time.Time
	subs  map[string]*session
}

type session struct {
	id  string
	out chan []byte
	lim *rate.Limiter
}

func NewServer(cfg Config, palette *model.Palette, logger *log.Logger) *Server {
	return &Server{
		cfg:     cfg,
		palette: palette,
		log:     logger,
		runs:    map[string]*feed{},
		now:     time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Open registers a run so observers can subscribe to it.
func (s *Server) Open(info observerproto.RunInfo) {
	if s.palette != nil && info.Colors == nil {
		info.Colors = s.palette.Legend(info.Legend)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	if _, ok := s.runs[info.RunID]; ok {
		return
	}
	s.runs[info.RunID] = &feed{info: info, subs: map[string]*session{}}
}

// sweepLocked drops runs that finished more than Retain ago. Their
// remaining observers keep their connection but get no further messages.
func (s *Server) sweepLocked() {
	now := s.now()
	for id, fd := range s.runs {
		if fd.end != nil && now.Sub(fd.ended) >= s.cfg.Retain {
			delete(s.runs, id)
		}
	}
}

// Publish sends f to every observer of runID. Non-final frames beyond the
// connection's rate or buffer are dropped; final frames always go out.
func (s *Server) Publish(runID string, f engine.Frame, final bool) {
	msg := observerproto.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: observerproto.Version,
		RunID:           runID,
		Step:            f.Step,
		Final:           final,
		Dims:            [3]int{f.MX, f.MY, f.MZ},
		Legend:          f.Legend,
		Digest:          f.Digest(),
		Encoding:        "RLE_U8",
		Data:            encoding.EncodeRLE(f.State),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Printf("encode frame: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fd, ok := s.runs[runID]
	if !ok {
		return
	}
	fd.last = b
	fd.info.Dims = msg.Dims
	fd.info.Legend = f.Legend
	for _, ss := range fd.subs {
		if !final && !ss.lim.Allow() {
			telemetry.ObserverFramesDropped.Inc()
			continue
		}
		if !ss.send(b, final) {
			telemetry.ObserverFramesDropped.Inc()
		}
	}
}

// Finish marks runID done and tells its observers.
func (s *Server) Finish(runID string, steps int, result string) {
	b, _ := json.Marshal(observerproto.EndMsg{
		Type:            protocol.TypeEnd,
		ProtocolVersion: observerproto.Version,
		RunID:           runID,
		Steps:           steps,
		Result:          result,
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	fd, ok := s.runs[runID]
	if !ok {
		return
	}
	fd.info.Done = true
	fd.end = b
	fd.ended = s.now()
	for _, ss := range fd.subs {
		ss.send(b, true)
	}
}

// send enqueues b without blocking. must evicts the oldest queued message to
// make room.
func (ss *session) send(b []byte, must bool) bool {
	select {
	case ss.out <- b:
		return true
	default:
	}
	if !must {
		return false
	}
	select {
	case <-ss.out:
	default:
	}
	select {
	case ss.out <- b:
		return true
	default:
		return false
	}
}

// Runs lists the registered runs ordered by id.
func (s *Server) Runs() []observerproto.RunInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	out := make([]observerproto.RunInfo, 0, len(s.runs))
	for _, fd := range s.runs {
		out = append(out, fd.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Runs:            s.Runs(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func writeError(conn *websocket.Conn, code, message string) {
	b, _ := json.Marshal(observerproto.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: observerproto.Version,
		Code:            code,
		Message:         message,
	})
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, code := parseSubscribe(msg)
		if code != "" {
			writeError(conn, code, "expected SUBSCRIBE")
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}

		ss := &session{
			id:  fmt.Sprintf("O%d", s.nextID.Add(1)),
			out: make(chan []byte, s.cfg.Buffer),
		}
		if code := s.join(ss, sub); code != "" {
			writeError(conn, code, sub.RunID)
			if code == protocol.ErrBusy {
				closeWith(conn, websocket.CloseTryAgainLater, "server busy")
			} else {
				closeWith(conn, websocket.ClosePolicyViolation, code)
			}
			return
		}
		telemetry.Observers.Inc()
		s.log.Printf("observer %s joined run %s", ss.id, sub.RunID)
		runID := sub.RunID
		defer func() {
			s.leave(ss, runID)
			s.release()
			telemetry.Observers.Dec()
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-ss.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: a new SUBSCRIBE switches runs.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			next, code := parseSubscribe(msg)
			if code != "" || next.RunID == runID {
				continue
			}
			s.leave(ss, runID)
			if code := s.join(ss, next); code != "" {
				// Stay on the old run.
				_ = s.join(ss, observerproto.SubscribeMsg{RunID: runID, MaxFPS: next.MaxFPS})
				continue
			}
			runID = next.RunID
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, string) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, protocol.ErrProtoBadRequest
	}
	if sub.Type != protocol.TypeSubscribe {
		return sub, protocol.ErrProtoBadRequest
	}
	if sub.ProtocolVersion != observerproto.Version {
		return sub, protocol.ErrProtoVersion
	}
	return sub, ""
}

// join attaches ss to the run and queues the run header plus the latest
// frame. It returns an error code on failure.
func (s *Server) join(ss *session, sub observerproto.SubscribeMsg) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	fd, ok := s.runs[sub.RunID]
	if !ok {
		return protocol.ErrRunNotFound
	}
	if ss.lim == nil {
		if s.sessions >= s.cfg.MaxObservers {
			return protocol.ErrBusy
		}
		s.sessions++
	}
	hz := s.cfg.FrameRateHz
	if sub.MaxFPS > 0 && sub.MaxFPS < hz {
		hz = sub.MaxFPS
	}
	ss.lim = rate.NewLimiter(rate.Limit(hz), s.cfg.FrameBurst)
	fd.subs[ss.id] = ss

	b, _ := json.Marshal(observerproto.RunMsg{
		Type:            protocol.TypeRun,
		ProtocolVersion: observerproto.Version,
		Run:             fd.info,
	})
	ss.send(b, true)
	if fd.last != nil {
		ss.send(fd.last, true)
	}
	if fd.end != nil {
		ss.send(fd.end, true)
	}
	return ""
}

func (s *Server) leave(ss *session, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fd, ok := s.runs[runID]; ok {
		delete(fd.subs, ss.id)
	}
}

// release frees one observer slot.
func (s *Server) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions > 0 {
		s.sessions--
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
