package main

import (
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxPlayers = 6

// A hand is force-ended once it holds this many cards; past ten cards a
// hand cannot avoid busting anyway and the shoe is sized around it.
const maxHandSize = 10

var (
	errRoomStarted   = errors.New("room has already started")
	errRoomFull      = errors.New("room is full")
	errAlreadyJoined = errors.New("player already joined this room")
)

// client is one connected player: a websocket plus a buffered outbound
// queue drained by writePump. Messages to the same client arrive in
// send order; no ordering is guaranteed across clients.
type client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

// room is one game session: a shoe, a dealer hand, the turn cycler, and
// the clients connected to it. All state transitions are serialized by
// mu; the dealer pacing delay sleeps with mu released so other rooms
// and other connections never wait longer than a single draw step.
type room struct {
	id string

	mu        sync.Mutex
	started   bool
	resolving bool
	dealer    []Card
	cycler    turnCycler
	clients   map[string]*client
	shoe      *shoe

	rng         *rand.Rand
	ledger      *Ledger
	dealerDelay time.Duration

	createdAt  time.Time
	lastActive time.Time
}

func newRoom(id string, rng *rand.Rand, ledger *Ledger, dealerDelay time.Duration) *room {
	now := time.Now()
	return &room{
		id:          id,
		clients:     make(map[string]*client),
		shoe:        newShoe(rng),
		rng:         rng,
		ledger:      ledger,
		dealerDelay: dealerDelay,
		createdAt:   now,
		lastActive:  now,
	}
}

// join registers a connection and appends its primary hand to the turn
// order. It returns the number of hands now seated. Rooms that have
// started, or already seat maxPlayers, reject new joins.
func (r *room) join(playerID string, c *client) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	switch {
	case r.started:
		return 0, errRoomStarted
	case len(r.clients) >= maxPlayers:
		return 0, errRoomFull
	}
	if _, ok := r.clients[playerID]; ok {
		return 0, errAlreadyJoined
	}

	r.clients[playerID] = c
	r.cycler.appendHand(newHand(playerID))
	idx := r.cycler.len() - 1

	roomLog.Infof("ROOM %s: player %s joined as hand %d", r.id, playerID, idx)
	r.announceLocked(PlayerJoinMessage{Type: "player_join", Player: idx})

	return r.cycler.len(), nil
}

// dispatch applies one inbound client message to the state machine.
// Out-of-turn and otherwise invalid actions are logged and ignored;
// they are never surfaced to the sender.
func (r *room) dispatch(playerID string, msg ClientMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	switch msg.Type {
	case actionGameStart:
		r.handleGameStart(playerID)
	case actionBet:
		r.handleBet(playerID, msg.Amount)
	case actionDeal:
		r.handleDeal(playerID)
	case actionSplit:
		r.handleSplit(playerID)
	case actionEndTurn:
		r.handleEndTurn(playerID)
	default:
		roomLog.Debugf("ROOM %s: player %s sent unknown action %q", r.id, playerID, msg.Type)
	}
}

// disconnect removes a player's connection and hands, restabilizes the
// turn machine, and returns the number of clients still connected so
// the registry can tear down emptied rooms.
func (r *room) disconnect(playerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()
	r.dropLocked([]string{playerID})

	return len(r.clients)
}

// ownsCurrent reports whether playerID may act right now: the game has
// started, the dealer isn't resolving, and the current hand is theirs.
func (r *room) ownsCurrent(playerID string) bool {
	return r.started && !r.resolving && r.cycler.len() > 0 &&
		r.cycler.currentHand().playerID == playerID
}

func (r *room) handleGameStart(playerID string) {
	if r.started {
		roomLog.Debugf("ROOM %s: player %s tried to start a running game", r.id, playerID)
		return
	}
	if r.cycler.len() == 0 {
		return
	}

	r.started = true
	roomLog.Infof("ROOM %s: game started by %s with %d hands", r.id, playerID, r.cycler.len())

	// Two face-up cards per hand, then two to the dealer with the
	// second held back. Broadcasting can drop dead clients and shrink
	// the cycler, so deal over a snapshot and skip removed hands.
	hands := append([]*Hand(nil), r.cycler.hands...)
	for round := 0; round < 2; round++ {
		for _, h := range hands {
			idx := r.cycler.primaryIndex(h)
			if idx == -1 {
				continue
			}
			card, err := r.draw()
			if err != nil {
				r.abortLocked(err)
				return
			}
			h.cards = append(h.cards, card)
			r.announceLocked(DealtMessage{
				Type:       "dealt",
				Hand:       idx,
				Card:       &card,
				SecondHand: h.secondHand,
			})
		}
	}

	for i := 0; i < 2; i++ {
		card, err := r.draw()
		if err != nil {
			r.abortLocked(err)
			return
		}
		r.dealer = append(r.dealer, card)

		msg := DealDealerMessage{Type: "deal_dealer"}
		if i == 0 {
			msg.Card = &card
		}
		r.announceLocked(msg)
	}

	r.requestTurnLocked()
}

func (r *room) handleBet(playerID string, amount int64) {
	if !r.ownsCurrent(playerID) {
		roomLog.Debugf("ROOM %s: out-of-turn bet from %s", r.id, playerID)
		return
	}

	hand := r.cycler.currentHand()
	switch {
	case amount <= 0:
		roomLog.Infof("ROOM %s: rejected non-positive bet %d from %s", r.id, amount, playerID)
		return
	case hand.bet != 0:
		roomLog.Debugf("ROOM %s: player %s already bet this round", r.id, playerID)
		return
	}

	hand.bet = amount
	if err := r.ledger.Debit(playerID, amount, "bet in room "+r.id); err != nil {
		ldgrLog.Errorf("ROOM %s: failed to debit %d from %s: %v", r.id, amount, playerID, err)
	}

	roomLog.Infof("ROOM %s: player %s bet %d", r.id, playerID, amount)
	r.notifyCurrentLocked(YourTurnMessage{Type: "your_turn", CanSplit: hand.canSplit()})
}

func (r *room) handleDeal(playerID string) {
	if !r.ownsCurrent(playerID) {
		roomLog.Debugf("ROOM %s: out-of-turn deal from %s", r.id, playerID)
		return
	}

	hand := r.cycler.currentHand()
	card, err := r.draw()
	if err != nil {
		r.abortLocked(err)
		return
	}

	hand.cards = append(hand.cards, card)
	r.announceLocked(DealtMessage{
		Type:       "dealt",
		Hand:       r.cycler.primaryIndex(hand),
		Card:       &card,
		SecondHand: hand.secondHand,
	})

	// The announce can disconnect this player; if their hand is gone the
	// removal already moved the turn along.
	if r.cycler.findIndex(func(h *Hand) bool { return h == hand }) == -1 {
		return
	}

	if hand.score().isBust() || len(hand.cards) >= maxHandSize {
		r.advanceLocked()
	}
}

func (r *room) handleSplit(playerID string) {
	if !r.ownsCurrent(playerID) {
		roomLog.Debugf("ROOM %s: out-of-turn split from %s", r.id, playerID)
		return
	}

	hand := r.cycler.currentHand()
	if !hand.canSplit() {
		roomLog.Debugf("ROOM %s: player %s tried an invalid split", r.id, playerID)
		return
	}

	first, err := r.draw()
	if err != nil {
		r.abortLocked(err)
		return
	}
	second, err := r.draw()
	if err != nil {
		r.abortLocked(err)
		return
	}

	split := &Hand{
		playerID:   playerID,
		secondHand: true,
		bet:        hand.bet,
		cards:      []Card{hand.cards[1], second},
	}
	hand.cards = []Card{hand.cards[0], first}
	r.cycler.appendHand(split)

	idx := r.cycler.primaryIndex(hand)
	roomLog.Infof("ROOM %s: player %s split hand %d", r.id, playerID, idx)

	r.announceLocked(PlayerSplitMessage{Type: "player_split", Player: idx})
	r.announceLocked(DealtMessage{Type: "dealt", Hand: idx, Card: &first, SecondHand: false})
	r.announceLocked(DealtMessage{Type: "dealt", Hand: idx, Card: &second, SecondHand: true})
}

func (r *room) handleEndTurn(playerID string) {
	if !r.ownsCurrent(playerID) {
		roomLog.Debugf("ROOM %s: out-of-turn end from %s", r.id, playerID)
		return
	}

	r.advanceLocked()
}

// advanceLocked ends the current hand's turn. Wrapping past the last
// hand hands control to the dealer.
//
// The end_turn broadcast can itself disconnect players. If the acting
// hand was removed, the removal already restabilized the turn machine
// and prompted whoever is next, so advancing again here would skip that
// hand's turn entirely.
func (r *room) advanceLocked() {
	if r.cycler.len() == 0 {
		return
	}
	acting := r.cycler.currentHand()

	r.announceLocked(EndTurnMessage{Type: "end_turn"})

	idx := r.cycler.findIndex(func(h *Hand) bool { return h == acting })
	if idx == -1 {
		return
	}
	r.cycler.current = idx

	if r.cycler.advance() {
		r.resolving = true
		go r.resolveDealer()
		return
	}

	r.requestTurnLocked()
}

// requestTurnLocked prompts the current hand: primary hands are asked
// for a bet first, split hands keep their inherited bet and act
// directly.
func (r *room) requestTurnLocked() {
	if r.cycler.len() == 0 {
		return
	}

	hand := r.cycler.currentHand()
	if hand.secondHand {
		r.notifyCurrentLocked(YourTurnMessage{Type: "your_turn", CanSplit: false})
		return
	}
	if hand.bet != 0 {
		r.notifyCurrentLocked(YourTurnMessage{Type: "your_turn", CanSplit: hand.canSplit()})
		return
	}

	r.notifyCurrentLocked(RequestBetMessage{Type: "request_bet"})
}

// resolveDealer runs the autonomous dealer phase: draw while under 17,
// pacing each draw, then settle. The pacing sleep runs with the room
// unlocked. The phase short-circuits if everyone has left.
func (r *room) resolveDealer() {
	for {
		time.Sleep(r.dealerDelay)

		r.mu.Lock()
		if !r.started || !r.resolving || len(r.clients) == 0 {
			r.resolving = false
			r.mu.Unlock()
			return
		}

		score := scoreHand(r.dealer)
		if score.kind != scorePoints || score.points >= 17 {
			r.settleLocked()
			r.mu.Unlock()
			return
		}

		card, err := r.draw()
		if err != nil {
			r.abortLocked(err)
			r.mu.Unlock()
			return
		}

		r.dealer = append(r.dealer, card)
		r.announceLocked(DealDealerMessage{Type: "deal_dealer", Card: &card})
		r.mu.Unlock()
	}
}

// settleLocked compares every hand against the dealer, credits payouts
// through the ledger, and delivers each hand's result privately. The
// room then returns to the lobby so the same players can go again.
func (r *room) settleLocked() {
	dealerScore := scoreHand(r.dealer)
	roomLog.Infof("ROOM %s: settling %d hands against dealer", r.id, r.cycler.len())

	// Dropping a dead client mid-settlement shrinks the cycler, so
	// settle over a snapshot; every hand still gets its payout.
	hands := append([]*Hand(nil), r.cycler.hands...)
	for _, h := range hands {
		result := settle(h.score(), dealerScore)

		if pay := payout(result, h.bet); pay > 0 {
			if err := r.ledger.Credit(h.playerID, pay, "payout in room "+r.id); err != nil {
				ldgrLog.Errorf("ROOM %s: failed to credit %d to %s: %v", r.id, pay, h.playerID, err)
			}
		}

		c, ok := r.clients[h.playerID]
		if !ok {
			continue
		}
		if !r.trySendLocked(c, EndGameMessage{
			Type:       "end_game",
			Result:     result,
			DealerHand: r.dealer,
			SecondHand: h.secondHand,
		}) {
			r.dropLocked([]string{h.playerID})
		}
	}

	r.resetRoundLocked()
}

// resetRoundLocked returns the room to the lobby after settlement:
// split hands are dropped, cards and bets cleared, and a fresh shoe
// shuffled for the next round.
func (r *room) resetRoundLocked() {
	for {
		if r.cycler.removeFirst(func(h *Hand) bool { return h.secondHand }) == nil {
			break
		}
	}

	for _, h := range r.cycler.hands {
		h.cards = nil
		h.bet = 0
	}

	r.cycler.current = 0
	r.dealer = nil
	r.shoe = newShoe(r.rng)
	r.started = false
	r.resolving = false
}

// abortLocked handles a room-level invariant violation (an empty shoe).
// The round is abandoned without payouts; the defect only takes down
// this room, never the process.
func (r *room) abortLocked(err error) {
	roomLog.Errorf("ROOM %s: aborting round: %v", r.id, err)
	r.resetRoundLocked()
}

func (r *room) draw() (Card, error) {
	return r.shoe.draw()
}

// dropLocked removes the given players, their hands, and restabilizes
// the turn machine. Broadcasting the departures can itself reveal more
// dead clients, so it drains a worklist until the room is stable.
func (r *room) dropLocked(playerIDs []string) {
	for len(playerIDs) > 0 {
		id := playerIDs[0]
		playerIDs = playerIDs[1:]
		playerIDs = append(playerIDs, r.removePlayerLocked(id)...)
	}
}

// removePlayerLocked removes one player's connection and every hand
// they own, then recovers the turn machine: pre-start rooms promote a
// new host, in-flight rooms move to the next hand or settle early when
// nobody is left to act. It returns any clients found dead while
// broadcasting the departure.
func (r *room) removePlayerLocked(playerID string) []string {
	if c, ok := r.clients[playerID]; ok {
		delete(r.clients, playerID)
		close(c.send)
	}

	owns := func(h *Hand) bool { return h.playerID == playerID }
	first := r.cycler.findIndex(owns)
	if first == -1 {
		return nil
	}

	wasCurrent := r.cycler.currentHand().playerID == playerID

	// Every leave notice for this player reports the same slot, taken
	// before anything is removed; removing the primary hand first would
	// otherwise leave split hands with nothing to point at.
	primary := r.cycler.primaryIndex(r.cycler.hands[first])

	var dead []string
	for r.cycler.removeFirst(owns) != nil {
		dead = append(dead, r.broadcastLocked(PlayerLeaveMessage{Type: "player_leave", Player: primary})...)
	}

	roomLog.Infof("ROOM %s: player %s left, %d hands remain", r.id, playerID, r.cycler.len())

	switch {
	case r.cycler.len() == 0:
		// Nobody left to act. A running round settles early with no
		// hands to pay; the dealer loop notices and stops.
		if r.started {
			r.resetRoundLocked()
		}
	case wasCurrent && !r.started:
		dead = append(dead, r.notifyCurrentValLocked(NewHostMessage{Type: "new_host"})...)
	case wasCurrent && r.started && !r.resolving:
		r.requestTurnLocked()
	}

	return dead
}

// Notification bus. Sends go through each client's buffered channel; a
// full or closed channel means the receiver is dead and is treated
// exactly like a disconnect.

// trySendLocked attempts a targeted send, marking the client dead on
// failure. The caller is responsible for dropping dead clients.
func (r *room) trySendLocked(c *client, msg any) bool {
	select {
	case c.send <- msg:
		return true
	default:
		if _, ok := r.clients[c.playerID]; ok {
			delete(r.clients, c.playerID)
			close(c.send)
		}
		return false
	}
}

// broadcastLocked fans a message out to every connected client and
// returns the players whose channels failed.
func (r *room) broadcastLocked(msg any) []string {
	var dead []string

	for id, c := range r.clients {
		select {
		case c.send <- msg:
		default:
			delete(r.clients, id)
			close(c.send)
			dead = append(dead, id)
		}
	}

	return dead
}

// announceLocked broadcasts and immediately disconnects any clients
// that failed delivery.
func (r *room) announceLocked(msg any) {
	if dead := r.broadcastLocked(msg); len(dead) > 0 {
		r.dropLocked(dead)
	}
}

// notifyCurrentLocked targets the current hand's owner, disconnecting
// them on delivery failure.
func (r *room) notifyCurrentLocked(msg any) {
	if dead := r.notifyCurrentValLocked(msg); len(dead) > 0 {
		r.dropLocked(dead)
	}
}

// notifyCurrentValLocked targets the current hand's owner and returns
// the dead client, if any, without dropping it.
func (r *room) notifyCurrentValLocked(msg any) []string {
	if r.cycler.len() == 0 {
		return nil
	}

	id := r.cycler.currentHand().playerID
	c, ok := r.clients[id]
	if !ok {
		return nil
	}
	if !r.trySendLocked(c, msg) {
		return []string{id}
	}

	return nil
}

func (c *client) readPump(r *room, rm *roomManager) {
	defer func() {
		if remaining := r.disconnect(c.playerID); remaining == 0 {
			rm.remove(r.id)
		}
		_ = c.conn.Close()
	}()

	c.conn.SetPongHandler(func(string) error {
		webLog.Debugf("ROOM %s: pong from %s", r.id, c.playerID)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				webLog.Debugf("ROOM %s: read from %s failed: %v", r.id, c.playerID, err)
			}
			return
		}

		// An undecodable message is logged and dropped; the connection
		// itself is unaffected.
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			webLog.Infof("ROOM %s: player %s sent an invalid message: %v", r.id, c.playerID, err)
			continue
		}

		r.dispatch(c.playerID, msg)
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
