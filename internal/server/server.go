// Package server serves a live WHEP preview of the frames being converted,
// plus health and websocket stats endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"rgb2hsv/internal/stream"
)

type Config struct {
	Host string
	Port int
	// StatsEvery is the websocket push interval, default one second.
	StatsEvery time.Duration
}

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// WhepServer hands every viewer a track fed from one shared broadcaster,
// so the preview is encoded once regardless of the number of sessions.
type WhepServer struct {
	cfg      Config
	log      *logrus.Entry
	bcast    *stream.SampleBroadcaster
	statusFn func() map[string]any

	mu       sync.Mutex
	sessions map[string]*session

	upgrader websocket.Upgrader
	wsMu     sync.Mutex
	clients  map[*websocket.Conn]*sync.Mutex
}

type session struct {
	pc   *webrtc.PeerConnection
	stop func()
}

// NewWhepServer creates a server. statusFn, when set, adds run progress to
// health and stats payloads.
func NewWhepServer(cfg Config, statusFn func() map[string]any, log *logrus.Entry) *WhepServer {
	if cfg.StatsEvery <= 0 {
		cfg.StatsEvery = time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WhepServer{
		cfg:      cfg,
		log:      log,
		bcast:    stream.NewSampleBroadcaster(),
		statusFn: statusFn,
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  map[*websocket.Conn]*sync.Mutex{},
	}
}

// Broadcaster is the track the preview encoder should write to.
func (s *WhepServer) Broadcaster() *stream.SampleBroadcaster { return s.bcast }

func (s *WhepServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/whep", s.handleWHEPPost)
	mux.HandleFunc("/whep/", s.handleWHEPResource)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, indexHTML)
	})
}

// Run serves until ctx is cancelled, then closes every session.
func (s *WhepServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go s.pushStats(ctx)
	defer s.Close()

	s.log.WithField("addr", srv.Addr).Info("preview server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close ends every WHEP session and websocket client.
func (s *WhepServer) Close() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.closeSession(id)
	}
	s.bcast.Close()

	s.wsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close()
		delete(s.clients, conn)
	}
	s.wsMu.Unlock()
}

func (s *WhepServer) handleWHEPPost(w http.ResponseWriter, r *http.Request) {
	allowCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	offerSDP, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(offerSDP) == 0 {
		http.Error(w, "empty offer", http.StatusBadRequest)
		return
	}

	me := webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(&me))
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	id := uuid.New().String()
	log := s.log.WithField("session", id)

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264}, "video", "rgb2hsv")
	if err != nil {
		_ = pc.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(offerSDP)}); err != nil {
		_ = pc.Close()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	select {
	case <-gatherComplete:
	case <-r.Context().Done():
		_ = pc.Close()
		return
	}

	remove := s.bcast.Add(track)
	s.mu.Lock()
	s.sessions[id] = &session{pc: pc, stop: remove}
	s.mu.Unlock()
	log.Info("preview session created")

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.WithField("state", state.String()).Debug("preview session state")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			s.closeSession(id)
		}
	})

	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", "/whep/"+id)
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, pc.LocalDescription().SDP)
}

func (s *WhepServer) handleWHEPResource(w http.ResponseWriter, r *http.Request) {
	allowCORS(w, r)
	id := strings.TrimPrefix(r.URL.Path, "/whep/")
	switch r.Method {
	case http.MethodPatch, http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		s.closeSession(id)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *WhepServer) closeSession(id string) {
	s.mu.Lock()
	sess := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if sess == nil {
		return
	}
	if sess.stop != nil {
		sess.stop()
	}
	_ = sess.pc.Close()
	s.log.WithField("session", id).Info("preview session closed")
}

func (s *WhepServer) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *WhepServer) statsPayload() map[string]any {
	payload := map[string]any{
		"type":       "stats",
		"sessions":   s.sessionCount(),
		"ws_clients": s.clientCount(),
		"counters":   stream.GetCounters(),
	}
	if s.statusFn != nil {
		for k, v := range s.statusFn() {
			payload[k] = v
		}
	}
	return payload
}

func (s *WhepServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	allowCORS(w, r)
	payload := s.statsPayload()
	payload["status"] = "ok"
	delete(payload, "type")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *WhepServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	s.wsMu.Lock()
	s.clients[conn] = writeMu
	s.wsMu.Unlock()

	_ = s.writeJSON(conn, writeMu, s.statsPayload())

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		// Clients only send control frames; reading keeps pongs flowing.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// pushStats sends a stats message to every websocket client each interval.
func (s *WhepServer) pushStats(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatsEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		payload, err := json.Marshal(s.statsPayload())
		if err != nil {
			continue
		}
		var stale []*websocket.Conn
		s.wsMu.Lock()
		for conn, writeMu := range s.clients {
			if err := s.writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
				stale = append(stale, conn)
			}
		}
		s.wsMu.Unlock()
		for _, conn := range stale {
			s.removeClient(conn)
		}
	}
}

func (s *WhepServer) removeClient(conn *websocket.Conn) {
	s.wsMu.Lock()
	delete(s.clients, conn)
	s.wsMu.Unlock()
	_ = conn.Close()
}

func (s *WhepServer) clientCount() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return len(s.clients)
}

func (s *WhepServer) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *WhepServer) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}

func allowCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Expose-Headers", "Location")
}

const indexHTML = `<!doctype html>
<meta charset="utf-8" />
<title>rgb2hsv preview</title>
<style>body{font-family:system-ui;margin:2rem}video{width:80vw;max-width:1280px;background:#000}pre{color:#555}</style>
<div>
  <button id="play">Play</button>
  <button id="stop" disabled>Stop</button>
</div>
<video id="v" playsinline autoplay muted></video>
<pre id="stats"></pre>
<script>
let pc=null, res=null; const $=id=>document.getElementById(id);
$("play").onclick = async ()=>{
  pc=new RTCPeerConnection();
  pc.addTransceiver('video',{direction:'recvonly'});
  pc.ontrack = ev=>{$("v").srcObject=ev.streams[0];}
  const offer = await pc.createOffer();
  await pc.setLocalDescription(offer);
  const resp=await fetch('/whep',{method:'POST',headers:{'Content-Type':'application/sdp'},body:offer.sdp});
  res=resp.headers.get('Location'); const sdp=await resp.text();
  await pc.setRemoteDescription({type:'answer', sdp});
  $("stop").disabled=false;
}
$("stop").onclick = async ()=>{
  if(res){await fetch(res,{method:'DELETE'})} if(pc){pc.close()} $("stop").disabled=true;
}
const ws=new WebSocket((location.protocol==='https:'?'wss://':'ws://')+location.host+'/ws');
ws.onmessage = ev=>{$("stats").textContent=JSON.stringify(JSON.parse(ev.data),null,2);}
</script>`
