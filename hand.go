package main

// Hand is one player's cards and bet. A split produces a second Hand
// with the same owner and bet; the secondary hand never bets again and
// cannot itself be split.
type Hand struct {
	playerID   string
	cards      []Card
	secondHand bool
	bet        int64
}

func newHand(playerID string) *Hand {
	return &Hand{playerID: playerID}
}

func (h *Hand) score() Score {
	return scoreHand(h.cards)
}

// canSplit reports whether the hand may be split: a primary hand of
// exactly two cards with equal score value.
func (h *Hand) canSplit() bool {
	return !h.secondHand &&
		len(h.cards) == 2 &&
		h.cards[0].Value() == h.cards[1].Value()
}
