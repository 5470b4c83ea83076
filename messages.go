package main

// Wire protocol: JSON, one message per websocket frame, tagged by "type".

// Message types coming from clients.
const (
	actionGameStart = "game_start"
	actionDeal      = "deal"
	actionEndTurn   = "end_turn"
	actionSplit     = "split"
	actionBet       = "bet"
)

// ClientMessage covers every client action; only "bet" carries a field.
type ClientMessage struct {
	Type   string `json:"type"`             // one of the action* constants
	Amount int64  `json:"amount,omitempty"` // bet
}

// PlayerJoinMessage announces a new hand. Player indexes in all server
// messages refer to the owner's primary-hand slot in turn order.
type PlayerJoinMessage struct {
	Type   string `json:"type"` // "player_join"
	Player int    `json:"player"`
}

// PlayerLeaveMessage announces a removed hand.
type PlayerLeaveMessage struct {
	Type   string `json:"type"` // "player_leave"
	Player int    `json:"player"`
}

// NewHostMessage is sent to the client that becomes host after the
// previous host leaves a room that hasn't started.
type NewHostMessage struct {
	Type string `json:"type"` // "new_host"
}

// DealtMessage announces a card dealt to a player's hand. A nil card is
// face down. SecondHand selects the player's split hand.
type DealtMessage struct {
	Type       string `json:"type"` // "dealt"
	Hand       int    `json:"hand"`
	Card       *Card  `json:"card,omitempty"`
	SecondHand bool   `json:"second_hand"`
}

// PlayerSplitMessage announces that a player split their hand.
type PlayerSplitMessage struct {
	Type   string `json:"type"` // "player_split"
	Player int    `json:"player"`
}

// RequestBetMessage asks the current hand's owner for a bet.
type RequestBetMessage struct {
	Type string `json:"type"` // "request_bet"
}

// YourTurnMessage tells the current hand's owner to act.
type YourTurnMessage struct {
	Type     string `json:"type"` // "your_turn"
	CanSplit bool   `json:"can_split"`
}

// EndTurnMessage announces that the current hand ended its turn.
type EndTurnMessage struct {
	Type string `json:"type"` // "end_turn"
}

// DealDealerMessage announces a card dealt to the dealer. A nil card is
// face down.
type DealDealerMessage struct {
	Type string `json:"type"` // "deal_dealer"
	Card *Card  `json:"card,omitempty"`
}

// EndGameMessage delivers a hand's private settlement result along with
// the dealer's full hand.
type EndGameMessage struct {
	Type       string     `json:"type"` // "end_game"
	Result     GameResult `json:"result"`
	DealerHand []Card     `json:"dealer_hand"`
	SecondHand bool       `json:"second_hand"`
}
