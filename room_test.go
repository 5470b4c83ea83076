package main

import (
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	ledger, err := openLedger(filepath.Join(t.TempDir(), "ledger.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	return ledger
}

func newTestRoom(t *testing.T) *room {
	t.Helper()

	rng := rand.New(rand.NewSource(1))
	return newRoom("abcdef", rng, newTestLedger(t), 0)
}

func newTestClient(playerID string) *client {
	return &client{
		send:     make(chan any, 64),
		playerID: playerID,
	}
}

// drain empties a client's outbound queue.
func drain(c *client) []any {
	var msgs []any
	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				return msgs
			}
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

// stackShoe replaces the room's shoe so cards come out in the given
// order.
func stackShoe(r *room, draws ...Card) {
	cards := make([]Card, len(draws))
	for i, c := range draws {
		cards[len(draws)-1-i] = c
	}
	r.shoe = &shoe{cards: cards}
}

func waitSettled(t *testing.T, r *room) {
	t.Helper()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return !r.started
	}, time.Second, time.Millisecond)
}

func TestRoomJoinAnnouncesAndCounts(t *testing.T) {
	r := newTestRoom(t)

	alice := newTestClient("alice")
	count, err := r.join("alice", alice)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	bob := newTestClient("bob")
	count, err = r.join("bob", bob)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Both clients saw bob's join; only alice saw her own.
	assert.Contains(t, drain(alice), PlayerJoinMessage{Type: "player_join", Player: 1})
	assert.Equal(t, []any{PlayerJoinMessage{Type: "player_join", Player: 1}}, drain(bob))

	_, err = r.join("alice", newTestClient("alice"))
	require.ErrorIs(t, err, errAlreadyJoined)
}

func TestRoomJoinRejectsFullAndStarted(t *testing.T) {
	r := newTestRoom(t)

	for _, id := range []string{"p1", "p2", "p3", "p4", "p5", "p6"} {
		_, err := r.join(id, newTestClient(id))
		require.NoError(t, err)
	}

	_, err := r.join("p7", newTestClient("p7"))
	require.ErrorIs(t, err, errRoomFull)

	r.mu.Lock()
	r.started = true
	r.mu.Unlock()

	_, err = r.join("p8", newTestClient("p8"))
	require.ErrorIs(t, err, errRoomStarted)
}

// Two players, a full round: deal, bets, one bust, dealer draws to 19,
// settlement pays nobody.
func TestRoomFullRound(t *testing.T) {
	r := newTestRoom(t)

	alice := newTestClient("alice")
	bob := newTestClient("bob")
	_, err := r.join("alice", alice)
	require.NoError(t, err)
	_, err = r.join("bob", bob)
	require.NoError(t, err)

	stackShoe(r,
		Card{Spades, Ten},     // alice 1
		Card{Clubs, Eight},    // bob 1
		Card{Hearts, Nine},    // alice 2 -> 19
		Card{Diamonds, Ten},   // bob 2 -> 18
		Card{Spades, Nine},    // dealer up
		Card{Hearts, Five},    // dealer hole -> 14
		Card{Diamonds, King},  // alice hits -> 29, bust
		Card{Diamonds, Five},  // dealer draws -> 19
	)

	r.dispatch("alice", ClientMessage{Type: actionGameStart})

	// Four player cards, one visible dealer card, one face down.
	msgs := drain(bob)
	assert.Contains(t, msgs, DealtMessage{Type: "dealt", Hand: 0, Card: &Card{Spades, Ten}, SecondHand: false})
	assert.Contains(t, msgs, DealtMessage{Type: "dealt", Hand: 1, Card: &Card{Diamonds, Ten}, SecondHand: false})
	assert.Contains(t, msgs, DealDealerMessage{Type: "deal_dealer", Card: &Card{Spades, Nine}})
	assert.Contains(t, msgs, DealDealerMessage{Type: "deal_dealer"})

	// Alice is first and is asked to bet; bob is not.
	require.Contains(t, drain(alice), RequestBetMessage{Type: "request_bet"})

	// Bob cannot act out of turn.
	r.dispatch("bob", ClientMessage{Type: actionBet, Amount: 50})
	assert.NotContains(t, drain(bob), YourTurnMessage{Type: "your_turn", CanSplit: false})

	// Non-positive bets are rejected.
	r.dispatch("alice", ClientMessage{Type: actionBet, Amount: -5})
	assert.Empty(t, drain(alice))

	r.dispatch("alice", ClientMessage{Type: actionBet, Amount: 100})
	require.Contains(t, drain(alice), YourTurnMessage{Type: "your_turn", CanSplit: false})

	balance, err := r.ledger.Balance("alice")
	require.NoError(t, err)
	assert.EqualValues(t, -100, balance)

	// Alice hits into a bust; her turn force-ends and bob is asked to bet.
	r.dispatch("alice", ClientMessage{Type: actionDeal})
	require.Contains(t, drain(bob), RequestBetMessage{Type: "request_bet"})

	r.dispatch("bob", ClientMessage{Type: actionBet, Amount: 50})
	require.Contains(t, drain(bob), YourTurnMessage{Type: "your_turn", CanSplit: false})

	// Bob stands; the dealer resolves and the round settles.
	r.dispatch("bob", ClientMessage{Type: actionEndTurn})
	waitSettled(t, r)

	dealerHand := []Card{{Spades, Nine}, {Hearts, Five}, {Diamonds, Five}}

	assert.Contains(t, drain(alice), EndGameMessage{
		Type: "end_game", Result: ResultLose, DealerHand: dealerHand,
	})
	bobMsgs := drain(bob)
	assert.Contains(t, bobMsgs, DealDealerMessage{Type: "deal_dealer", Card: &Card{Diamonds, Five}})
	assert.Contains(t, bobMsgs, EndGameMessage{
		Type: "end_game", Result: ResultLose, DealerHand: dealerHand,
	})

	// Losing hands stay debited.
	balance, err = r.ledger.Balance("alice")
	require.NoError(t, err)
	assert.EqualValues(t, -100, balance)
	balance, err = r.ledger.Balance("bob")
	require.NoError(t, err)
	assert.EqualValues(t, -50, balance)

	// The room is back in the lobby for another round.
	r.mu.Lock()
	assert.False(t, r.started)
	assert.Empty(t, r.dealer)
	assert.Equal(t, 2, r.cycler.len())
	assert.Empty(t, r.cycler.hands[0].cards)
	assert.Zero(t, r.cycler.hands[0].bet)
	r.mu.Unlock()
}

func TestRoomWinAndPushPayouts(t *testing.T) {
	r := newTestRoom(t)

	alice := newTestClient("alice")
	bob := newTestClient("bob")
	_, err := r.join("alice", alice)
	require.NoError(t, err)
	_, err = r.join("bob", bob)
	require.NoError(t, err)

	stackShoe(r,
		Card{Spades, Ten},   // alice 1
		Card{Clubs, Ten},    // bob 1
		Card{Hearts, Nine},  // alice 2 -> 19
		Card{Diamonds, Ace}, // bob 2 -> blackjack
		Card{Spades, Nine},  // dealer up
		Card{Hearts, Ten},   // dealer hole -> 19, stands
	)

	r.dispatch("alice", ClientMessage{Type: actionGameStart})
	r.dispatch("alice", ClientMessage{Type: actionBet, Amount: 100})
	r.dispatch("alice", ClientMessage{Type: actionEndTurn})
	r.dispatch("bob", ClientMessage{Type: actionBet, Amount: 60})
	r.dispatch("bob", ClientMessage{Type: actionEndTurn})
	waitSettled(t, r)

	// Alice pushes at 19; bob's blackjack pays 3:2.
	balance, err := r.ledger.Balance("alice")
	require.NoError(t, err)
	assert.EqualValues(t, 0, balance)

	balance, err = r.ledger.Balance("bob")
	require.NoError(t, err)
	assert.EqualValues(t, -60+2*60+30, balance)
}

func TestRoomSplit(t *testing.T) {
	r := newTestRoom(t)

	alice := newTestClient("alice")
	_, err := r.join("alice", alice)
	require.NoError(t, err)

	stackShoe(r,
		Card{Spades, Eight},   // alice 1
		Card{Hearts, Eight},   // alice 2
		Card{Spades, King},    // dealer up
		Card{Hearts, Seven},   // dealer hole -> 17, stands
		Card{Clubs, Two},      // split draw for the original hand
		Card{Diamonds, Three}, // split draw for the new hand
	)

	r.dispatch("alice", ClientMessage{Type: actionGameStart})
	r.dispatch("alice", ClientMessage{Type: actionBet, Amount: 40})

	require.Contains(t, drain(alice), YourTurnMessage{Type: "your_turn", CanSplit: true})

	r.dispatch("alice", ClientMessage{Type: actionSplit})

	msgs := drain(alice)
	assert.Contains(t, msgs, PlayerSplitMessage{Type: "player_split", Player: 0})
	assert.Contains(t, msgs, DealtMessage{Type: "dealt", Hand: 0, Card: &Card{Clubs, Two}, SecondHand: false})
	assert.Contains(t, msgs, DealtMessage{Type: "dealt", Hand: 0, Card: &Card{Diamonds, Three}, SecondHand: true})

	r.mu.Lock()
	require.Equal(t, 2, r.cycler.len())
	first, second := r.cycler.hands[0], r.cycler.hands[1]
	assert.Equal(t, []Card{{Spades, Eight}, {Clubs, Two}}, first.cards)
	assert.Equal(t, []Card{{Hearts, Eight}, {Diamonds, Three}}, second.cards)
	assert.False(t, first.secondHand)
	assert.True(t, second.secondHand)
	assert.EqualValues(t, 40, first.bet)
	assert.EqualValues(t, 40, second.bet)
	// The turn stayed with the original hand.
	assert.Equal(t, 0, r.cycler.current)
	r.mu.Unlock()

	// A split hand cannot split again.
	r.dispatch("alice", ClientMessage{Type: actionEndTurn})
	require.Contains(t, drain(alice), YourTurnMessage{Type: "your_turn", CanSplit: false})
}

func TestRoomSplitRequiresEqualValues(t *testing.T) {
	r := newTestRoom(t)

	alice := newTestClient("alice")
	_, err := r.join("alice", alice)
	require.NoError(t, err)

	stackShoe(r,
		Card{Spades, Eight},
		Card{Hearts, Nine},
		Card{Spades, King},
		Card{Hearts, Seven},
	)

	r.dispatch("alice", ClientMessage{Type: actionGameStart})
	r.dispatch("alice", ClientMessage{Type: actionBet, Amount: 40})
	drain(alice)

	r.dispatch("alice", ClientMessage{Type: actionSplit})

	assert.Empty(t, drain(alice))
	r.mu.Lock()
	assert.Equal(t, 1, r.cycler.len())
	r.mu.Unlock()
}

func TestRoomHandForceEndsAtTenCards(t *testing.T) {
	r := newTestRoom(t)

	alice := newTestClient("alice")
	_, err := r.join("alice", alice)
	require.NoError(t, err)

	// All twos: ten cards total 20, never busting.
	draws := make([]Card, 0, 20)
	for i := 0; i < 20; i++ {
		draws = append(draws, Card{Clubs, Two})
	}
	stackShoe(r, draws...)

	r.dispatch("alice", ClientMessage{Type: actionGameStart})
	r.dispatch("alice", ClientMessage{Type: actionBet, Amount: 10})

	for j := 0; j < 8; j++ {
		r.dispatch("alice", ClientMessage{Type: actionDeal})
	}

	// The tenth card ended the turn, which wrapped into dealer
	// resolution and settlement.
	waitSettled(t, r)

	r.mu.Lock()
	assert.False(t, r.started)
	r.mu.Unlock()
}

func TestRoomHostLeavePromotesNewHost(t *testing.T) {
	r := newTestRoom(t)

	alice := newTestClient("alice")
	bob := newTestClient("bob")
	_, err := r.join("alice", alice)
	require.NoError(t, err)
	_, err = r.join("bob", bob)
	require.NoError(t, err)
	drain(bob)

	remaining := r.disconnect("alice")
	assert.Equal(t, 1, remaining)

	msgs := drain(bob)
	assert.Contains(t, msgs, PlayerLeaveMessage{Type: "player_leave", Player: 0})
	assert.Contains(t, msgs, NewHostMessage{Type: "new_host"})
}

func TestRoomDisconnectMidGameAdvancesTurn(t *testing.T) {
	r := newTestRoom(t)

	alice := newTestClient("alice")
	bob := newTestClient("bob")
	_, err := r.join("alice", alice)
	require.NoError(t, err)
	_, err = r.join("bob", bob)
	require.NoError(t, err)

	stackShoe(r,
		Card{Spades, Ten},
		Card{Clubs, Eight},
		Card{Hearts, Nine},
		Card{Diamonds, Ten},
		Card{Spades, Nine},
		Card{Hearts, Ten},
	)

	r.dispatch("alice", ClientMessage{Type: actionGameStart})
	drain(bob)

	// Alice never bets and walks away; bob should be prompted.
	remaining := r.disconnect("alice")
	assert.Equal(t, 1, remaining)

	msgs := drain(bob)
	assert.Contains(t, msgs, PlayerLeaveMessage{Type: "player_leave", Player: 0})
	assert.Contains(t, msgs, RequestBetMessage{Type: "request_bet"})
}

func TestRoomDisconnectRemovesAllHands(t *testing.T) {
	r := newTestRoom(t)

	alice := newTestClient("alice")
	bob := newTestClient("bob")
	_, err := r.join("alice", alice)
	require.NoError(t, err)
	_, err = r.join("bob", bob)
	require.NoError(t, err)

	stackShoe(r,
		Card{Spades, Eight},
		Card{Clubs, Five},
		Card{Hearts, Eight},
		Card{Diamonds, Ten},
		Card{Spades, King},
		Card{Hearts, Seven},
		Card{Clubs, Two},
		Card{Diamonds, Three},
	)

	r.dispatch("alice", ClientMessage{Type: actionGameStart})
	r.dispatch("alice", ClientMessage{Type: actionBet, Amount: 40})
	r.dispatch("alice", ClientMessage{Type: actionSplit})
	drain(bob)

	r.disconnect("alice")

	r.mu.Lock()
	assert.Equal(t, 1, r.cycler.len())
	assert.Equal(t, "bob", r.cycler.currentHand().playerID)
	r.mu.Unlock()

	// One leave notice per removed hand, both against alice's slot.
	leaves := 0
	for _, m := range drain(bob) {
		if leave, ok := m.(PlayerLeaveMessage); ok {
			assert.Equal(t, 0, leave.Player)
			leaves++
		}
	}
	assert.Equal(t, 2, leaves)
}

func TestRoomLastDisconnectEndsRound(t *testing.T) {
	r := newTestRoom(t)

	alice := newTestClient("alice")
	_, err := r.join("alice", alice)
	require.NoError(t, err)

	stackShoe(r,
		Card{Spades, Ten},
		Card{Hearts, Nine},
		Card{Spades, Nine},
		Card{Hearts, Ten},
	)

	r.dispatch("alice", ClientMessage{Type: actionGameStart})

	remaining := r.disconnect("alice")
	assert.Equal(t, 0, remaining)

	r.mu.Lock()
	assert.False(t, r.started)
	assert.Equal(t, 0, r.cycler.len())
	assert.Empty(t, r.clients)
	r.mu.Unlock()
}

// jamQueue fills a client's outbound channel so the next broadcast to
// it fails.
func jamQueue(c *client) {
	for {
		select {
		case c.send <- EndTurnMessage{Type: "end_turn"}:
		default:
			return
		}
	}
}

// When the acting player's connection dies on their own end_turn, the
// removal hands the turn to the next player; the turn must not advance
// a second time past them into dealer resolution.
func TestRoomEndTurnSendFailureKeepsNextTurn(t *testing.T) {
	r := newTestRoom(t)

	alice := newTestClient("alice")
	bob := newTestClient("bob")
	_, err := r.join("alice", alice)
	require.NoError(t, err)
	_, err = r.join("bob", bob)
	require.NoError(t, err)

	stackShoe(r,
		Card{Spades, Ten},    // alice 1
		Card{Clubs, Ten},     // bob 1
		Card{Hearts, Nine},   // alice 2 -> 19
		Card{Diamonds, Nine}, // bob 2 -> 19
		Card{Spades, Eight},  // dealer up
		Card{Hearts, Ten},    // dealer hole -> 18, stands
	)

	r.dispatch("alice", ClientMessage{Type: actionGameStart})
	r.dispatch("alice", ClientMessage{Type: actionBet, Amount: 100})
	drain(bob)

	jamQueue(alice)
	r.dispatch("alice", ClientMessage{Type: actionEndTurn})

	r.mu.Lock()
	assert.True(t, r.started)
	assert.False(t, r.resolving, "dealer must wait for bob's turn")
	require.Equal(t, 1, r.cycler.len())
	assert.Equal(t, "bob", r.cycler.currentHand().playerID)
	r.mu.Unlock()

	msgs := drain(bob)
	assert.Contains(t, msgs, PlayerLeaveMessage{Type: "player_leave", Player: 0})
	assert.Contains(t, msgs, RequestBetMessage{Type: "request_bet"})

	// Bob's turn proceeds normally.
	r.dispatch("bob", ClientMessage{Type: actionBet, Amount: 50})
	require.Contains(t, drain(bob), YourTurnMessage{Type: "your_turn", CanSplit: false})

	r.dispatch("bob", ClientMessage{Type: actionEndTurn})
	waitSettled(t, r)

	// 19 beats the dealer's 18.
	balance, err := r.ledger.Balance("bob")
	require.NoError(t, err)
	assert.EqualValues(t, -50+100, balance)
}

// Same reentrancy through the force-end path: a bust whose dealt
// broadcast kills the acting player must not end the next player's
// turn too.
func TestRoomBustSendFailureKeepsNextTurn(t *testing.T) {
	r := newTestRoom(t)

	alice := newTestClient("alice")
	bob := newTestClient("bob")
	_, err := r.join("alice", alice)
	require.NoError(t, err)
	_, err = r.join("bob", bob)
	require.NoError(t, err)

	stackShoe(r,
		Card{Spades, Ten},    // alice 1
		Card{Clubs, Ten},     // bob 1
		Card{Hearts, Nine},   // alice 2 -> 19
		Card{Diamonds, Nine}, // bob 2 -> 19
		Card{Spades, Eight},  // dealer up
		Card{Hearts, Ten},    // dealer hole -> 18, stands
		Card{Clubs, King},    // alice hits -> 29, bust
	)

	r.dispatch("alice", ClientMessage{Type: actionGameStart})
	r.dispatch("alice", ClientMessage{Type: actionBet, Amount: 100})
	drain(bob)

	jamQueue(alice)
	r.dispatch("alice", ClientMessage{Type: actionDeal})

	r.mu.Lock()
	assert.True(t, r.started)
	assert.False(t, r.resolving, "dealer must wait for bob's turn")
	require.Equal(t, 1, r.cycler.len())
	r.mu.Unlock()

	msgs := drain(bob)
	assert.Contains(t, msgs, PlayerLeaveMessage{Type: "player_leave", Player: 0})
	assert.Contains(t, msgs, RequestBetMessage{Type: "request_bet"})
	assert.NotContains(t, msgs, EndTurnMessage{Type: "end_turn"})

	r.dispatch("bob", ClientMessage{Type: actionBet, Amount: 50})
	r.dispatch("bob", ClientMessage{Type: actionEndTurn})
	waitSettled(t, r)

	balance, err := r.ledger.Balance("bob")
	require.NoError(t, err)
	assert.EqualValues(t, -50+100, balance)
}

// A client whose outbound queue is full is treated exactly like a
// disconnect: its hands are removed and everyone else is told.
func TestRoomSendFailureIsDisconnect(t *testing.T) {
	r := newTestRoom(t)

	alice := newTestClient("alice")
	_, err := r.join("alice", alice)
	require.NoError(t, err)

	stuck := &client{send: make(chan any), playerID: "bob"}
	_, err = r.join("bob", stuck)
	require.NoError(t, err)

	// The join broadcast already found bob's unbuffered channel full.
	r.mu.Lock()
	assert.NotContains(t, r.clients, "bob")
	assert.Equal(t, 1, r.cycler.len())
	r.mu.Unlock()

	assert.Contains(t, drain(alice), PlayerLeaveMessage{Type: "player_leave", Player: 1})
}
