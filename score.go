package main

// scoreKind orders hand outcomes for settlement: Bust < Points < Blackjack.
type scoreKind int

const (
	scoreBust scoreKind = iota
	scorePoints
	scoreBlackjack
)

// Score is a classified hand value.
type Score struct {
	kind   scoreKind
	points int // meaningful only for scorePoints
}

// scoreHand sums card values (aces as 1, faces as 10), then promotes a
// single ace from 1 to 11 when the raw sum allows it. Promoting a second
// ace would always bust, so at most one is ever promoted.
//
// Any hand totalling 21 classifies as Blackjack, regardless of card
// count. This matches the payout rules of this game rather than the
// casino convention reserving "blackjack" for two-card 21s.
func scoreHand(cards []Card) Score {
	sum := 0
	foundAce := false

	for _, card := range cards {
		if card.Rank == Ace {
			foundAce = true
		}
		sum += card.Value()
	}

	if foundAce && sum < 12 {
		sum += 10
	}

	switch {
	case sum == 21:
		return Score{kind: scoreBlackjack}
	case sum < 21:
		return Score{kind: scorePoints, points: sum}
	default:
		return Score{kind: scoreBust}
	}
}

func (s Score) isBlackjack() bool {
	return s.kind == scoreBlackjack
}

func (s Score) isBust() bool {
	return s.kind == scoreBust
}

// Compare returns -1, 0, or 1 as s sorts below, equal to, or above other.
func (s Score) Compare(other Score) int {
	switch {
	case s.kind != other.kind:
		if s.kind < other.kind {
			return -1
		}
		return 1
	case s.kind == scorePoints && s.points != other.points:
		if s.points < other.points {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// GameResult is the settlement outcome for a single hand.
type GameResult string

const (
	ResultLose      GameResult = "Lose"
	ResultWin       GameResult = "Win"
	ResultPush      GameResult = "Push"
	ResultBlackjack GameResult = "Blackjack"
)

// settle compares a hand's score against the dealer's.
func settle(hand, dealer Score) GameResult {
	switch {
	case hand.isBust():
		return ResultLose
	case dealer.isBlackjack():
		if hand.isBlackjack() {
			return ResultPush
		}
		return ResultLose
	case dealer.isBust():
		if hand.isBlackjack() {
			return ResultBlackjack
		}
		return ResultWin
	case hand.isBlackjack():
		return ResultBlackjack
	default:
		switch hand.Compare(dealer) {
		case 1:
			return ResultWin
		case -1:
			return ResultLose
		default:
			return ResultPush
		}
	}
}

// payout returns the total credit owed for a settled hand, including the
// returned stake. Blackjack pays 3:2 on top of the stake, with integer
// truncation on odd bets.
func payout(result GameResult, bet int64) int64 {
	switch result {
	case ResultPush:
		return bet
	case ResultWin:
		return 2 * bet
	case ResultBlackjack:
		return 2*bet + bet/2
	default:
		return 0
	}
}
