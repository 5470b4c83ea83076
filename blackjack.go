package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	mrand "math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	roomIDLength  = 6
	roomIDRetries = 10
)

var (
	errBadRoomID   = errors.New("room ids are exactly six alphabetic characters")
	errIDExhausted = errors.New("exhausted room id generation retries")
)

// parseRoomID trims and lowercases an inbound room id, rejecting
// anything that isn't exactly six alphabetic characters.
func parseRoomID(raw string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if len(id) != roomIDLength {
		return "", errBadRoomID
	}
	for _, c := range id {
		if c < 'a' || c > 'z' {
			return "", errBadRoomID
		}
	}

	return id, nil
}

// roomManager holds every live room keyed by id. Rooms are created on
// demand and removed when their last player disconnects, with an idle
// reaper as a backstop for sessions that never close cleanly.
type roomManager struct {
	mu    sync.Mutex
	rooms map[string]*room

	cfg    *Config
	ledger *Ledger

	// newID is swappable so tests can force collisions.
	newID func() (string, error)
}

func newRoomManager(cfg *Config, ledger *Ledger) *roomManager {
	rm := &roomManager{
		rooms:  make(map[string]*room),
		cfg:    cfg,
		ledger: ledger,
		newID:  randomRoomID,
	}
	if cfg.sessionTimeout > 0 {
		go rm.reaperLoop(cfg.sessionTimeout)
	}

	return rm
}

// create allocates a fresh room behind a new unique id. Ten straight
// collisions means id space exhaustion; the request fails rather than
// looping forever.
func (rm *roomManager) create() (string, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	for attempt := 0; attempt < roomIDRetries; attempt++ {
		id, err := rm.newID()
		if err != nil {
			return "", err
		}

		if _, exists := rm.rooms[id]; exists {
			webLog.Warnf("GAMES: room id %s collided, retrying", id)
			continue
		}

		rng := mrand.New(mrand.NewSource(time.Now().UnixNano()))
		rm.rooms[id] = newRoom(id, rng, rm.ledger, rm.cfg.dealerDelay)
		webLog.Infof("GAMES: created room %s", id)

		return id, nil
	}

	return "", errIDExhausted
}

func randomRoomID() (string, error) {
	buf := make([]byte, roomIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto/rand failure: %w", err)
	}

	out := make([]byte, roomIDLength)
	for i := range out {
		out[i] = 'a' + buf[i]%26
	}

	return string(out), nil
}

func (rm *roomManager) get(id string) (*room, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	r, ok := rm.rooms[id]

	return r, ok
}

func (rm *roomManager) remove(id string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.rooms[id]; ok {
		delete(rm.rooms, id)
		webLog.Infof("GAMES: removed room %s", id)
	}
}

// reaperLoop periodically removes rooms idle longer than the timeout.
func (rm *roomManager) reaperLoop(idleTimeout time.Duration) {
	ticker := time.NewTicker(idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-idleTimeout)

		rm.mu.Lock()
		for id, r := range rm.rooms {
			r.mu.Lock()
			last := r.lastActive
			age := time.Since(r.createdAt)
			clients := make([]*client, 0, len(r.clients))
			for _, c := range r.clients {
				clients = append(clients, c)
			}
			r.mu.Unlock()

			if last.Before(cutoff) {
				delete(rm.rooms, id)
				webLog.Infof("GAMES: reaped idle room %s after %s", id, age.Round(time.Second))
				for _, c := range clients {
					_ = c.conn.Close()
				}
			}
		}
		rm.mu.Unlock()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "blackjack_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		webLog.Errorf("rand.Read error: %v", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// redirectNewRoom handles GET on the game root by allocating a room and
// redirecting to it.
func redirectNewRoom(cfg *Config, path string, rm *roomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		id, err := rm.create()
		if err != nil {
			webLog.Errorf("GAMES: room creation failed: %v", err)
			serverError(cfg, w)

			return
		}

		http.Redirect(w, r, path+"/"+id, http.StatusTemporaryRedirect)
	}
}

// serveRoomPage serves the embedded client for a room, turning away
// bad ids, unknown rooms, and rooms that are full or already playing.
func serveRoomPage(cfg *Config, rm *roomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := parseRoomID(ps.ByName("roomid"))
		if err != nil {
			badRequest(cfg, w, err.Error())
			return
		}

		rom, ok := rm.get(id)
		if !ok {
			notFound(cfg, w)
			return
		}

		rom.mu.Lock()
		full := rom.started || len(rom.clients) >= maxPlayers
		rom.mu.Unlock()

		if full {
			badRequest(cfg, w, "This game is full or has already started.")
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

// serveRoomWS upgrades to a websocket and hooks the connection into the
// room engine.
func serveRoomWS(cfg *Config, rm *roomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id, err := parseRoomID(ps.ByName("roomid"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		rom, ok := rm.get(id)
		if !ok {
			http.Error(w, "no such room", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			webLog.Errorf("upgrade error: %v", err)
			return
		}

		c := &client{
			conn:     conn,
			send:     make(chan any, 16),
			playerID: playerID,
		}

		count, err := rom.join(playerID, c)
		if err != nil {
			webLog.Infof("GAMES: %s rejected from room %s: %v", playerID, id, err)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
				time.Now().Add(time.Second))
			_ = conn.Close()

			return
		}

		webLog.Debugf("GAMES: room %s seats %d hands", id, count)

		// Keepalive probe; the pong is logged by the read pump's handler.
		_ = conn.WriteControl(websocket.PingMessage, []byte(id), time.Now().Add(time.Second))

		go c.writePump()
		c.readPump(rom, rm)
	}
}

// serveRoomQR renders a QR code for the room URL so a session can be
// shared across phones at the table.
func serveRoomQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if _, err := parseRoomID(ps.ByName("roomid")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	path := strings.TrimSuffix(r.URL.Path, "/qr")
	url := scheme + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerBlackjackGame sets up routes so that:
//   - $path             → redirects to a freshly created room
//   - $path/:roomid     → HTML client
//   - $path/:roomid/ws  → WebSocket for that room
//   - $path/:roomid/qr  → PNG QR code for that room URL
func registerBlackjackGame(cfg *Config, path string, mux *httprouter.Router, ledger *Ledger) {
	rm := newRoomManager(cfg, ledger)

	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, cfg.prefix+path, rm))
	mux.GET(cfg.prefix+path+"/:roomid", serveRoomPage(cfg, rm))
	mux.GET(cfg.prefix+path+"/:roomid/ws", serveRoomWS(cfg, rm))
	mux.GET(cfg.prefix+path+"/:roomid/qr", serveRoomQR)
}
