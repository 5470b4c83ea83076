package main

import (
	"errors"
	"math/rand"
)

// Suit is a card suit, serialized by name.
type Suit string

const (
	Hearts   Suit = "Hearts"
	Diamonds Suit = "Diamonds"
	Clubs    Suit = "Clubs"
	Spades   Suit = "Spades"
)

var suits = []Suit{Hearts, Diamonds, Clubs, Spades}

// Rank is a card rank, serialized by name.
type Rank string

const (
	Ace   Rank = "Ace"
	Two   Rank = "Two"
	Three Rank = "Three"
	Four  Rank = "Four"
	Five  Rank = "Five"
	Six   Rank = "Six"
	Seven Rank = "Seven"
	Eight Rank = "Eight"
	Nine  Rank = "Nine"
	Ten   Rank = "Ten"
	Jack  Rank = "Jack"
	Queen Rank = "Queen"
	King  Rank = "King"
)

var ranks = []Rank{Ace, Two, Three, Four, Five, Six, Seven, Eight, Nine, Ten, Jack, Queen, King}

// Card is an immutable playing card.
type Card struct {
	Suit Suit `json:"suit"`
	Rank Rank `json:"rank"`
}

// Value returns the card's blackjack value. Aces count as 1 here;
// soft-ace promotion happens at hand scoring.
func (c Card) Value() int {
	switch c.Rank {
	case Ace:
		return 1
	case Two:
		return 2
	case Three:
		return 3
	case Four:
		return 4
	case Five:
		return 5
	case Six:
		return 6
	case Seven:
		return 7
	case Eight:
		return 8
	case Nine:
		return 9
	default: // Ten, Jack, Queen, King
		return 10
	}
}

func (c Card) String() string {
	return string(c.Rank) + " of " + string(c.Suit)
}

// shoeDecks is how many 52-card decks make up a room's supply. Sized so
// six players at ten cards each plus the dealer can never run it dry.
const shoeDecks = 8

var errShoeEmpty = errors.New("card shoe is empty")

// shoe is a room's card supply, consumed from the top.
type shoe struct {
	cards []Card
}

// newShoe builds a shuffled shoe of shoeDecks decks using the provided
// RNG, so tests can inject a seeded source for deterministic deals.
func newShoe(rng *rand.Rand) *shoe {
	cards := make([]Card, 0, shoeDecks*52)

	for deck := 0; deck < shoeDecks; deck++ {
		for _, suit := range suits {
			for _, rank := range ranks {
				cards = append(cards, Card{Suit: suit, Rank: rank})
			}
		}
	}

	rng.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})

	return &shoe{cards: cards}
}

func (s *shoe) size() int {
	return len(s.cards)
}

// draw pops the top card. An empty shoe indicates a logic defect, not a
// recoverable runtime condition, so the caller aborts the room.
func (s *shoe) draw() (Card, error) {
	if len(s.cards) == 0 {
		return Card{}, errShoeEmpty
	}

	card := s.cards[len(s.cards)-1]
	s.cards = s.cards[:len(s.cards)-1]

	return card, nil
}
