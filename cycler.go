package main

// turnCycler is an ordered collection of hands with a single
// current-turn pointer. Whenever the cycler is non-empty,
// 0 <= current < len(hands) holds.
type turnCycler struct {
	hands   []*Hand
	current int
}

// appendHand adds a hand to the end without moving the turn pointer.
func (t *turnCycler) appendHand(h *Hand) {
	t.hands = append(t.hands, h)
}

func (t *turnCycler) len() int {
	return len(t.hands)
}

// currentHand returns the hand whose turn it is. Callers must check
// len() first; an empty cycler has no current hand.
func (t *turnCycler) currentHand() *Hand {
	return t.hands[t.current]
}

// advance moves the turn pointer to the next hand, wrapping past the
// end. It reports true when it wrapped back to the first hand.
func (t *turnCycler) advance() bool {
	t.current++
	if t.current >= len(t.hands) {
		t.current = 0
		return true
	}
	return false
}

// isCurrent reports whether the first hand matching pred is the one at
// the turn pointer.
func (t *turnCycler) isCurrent(pred func(*Hand) bool) bool {
	for i, h := range t.hands {
		if pred(h) {
			return i == t.current
		}
	}
	return false
}

// findIndex returns the index of the first hand matching pred, or -1.
func (t *turnCycler) findIndex(pred func(*Hand) bool) int {
	for i, h := range t.hands {
		if pred(h) {
			return i
		}
	}
	return -1
}

// removeFirst removes the first hand matching pred and returns it, or
// nil if nothing matched.
//
// Turn-pointer policy on removal: if the removed index was the last
// index of the pre-removal sequence, the pointer resets to 0 even when
// it pointed elsewhere. Otherwise a pointer past the removed index
// shifts down by one. The reset-to-0 rule can jump the turn backward.
func (t *turnCycler) removeFirst(pred func(*Hand) bool) *Hand {
	i := t.findIndex(pred)
	if i == -1 {
		return nil
	}

	removed := t.hands[i]
	last := len(t.hands) - 1
	t.hands = append(t.hands[:i], t.hands[i+1:]...)

	switch {
	case i == last:
		t.current = 0
	case t.current > i:
		t.current--
	}

	return removed
}

// primaryIndex maps any hand to the index of its owner's primary hand.
// Protocol messages always address players by this index, so a deal to
// a split hand is reported against the owner's primary slot with the
// second-hand flag set.
func (t *turnCycler) primaryIndex(h *Hand) int {
	if !h.secondHand {
		return t.findIndex(func(other *Hand) bool { return other == h })
	}
	return t.findIndex(func(other *Hand) bool {
		return !other.secondHand && other.playerID == h.playerID
	})
}
