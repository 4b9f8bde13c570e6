package game

import (
	"errors"
	"strings"
)

// Move is one of the three legal throws.
type Move string

const (
	MoveRock     Move = "rock"
	MovePaper    Move = "paper"
	MoveScissors Move = "scissors"
)

// Outcome of a round from the first player's perspective.
type Outcome int

const (
	OutcomeDraw Outcome = iota
	OutcomeWin
	OutcomeLose
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWin:
		return "win"
	case OutcomeLose:
		return "lose"
	}
	return "draw"
}

var ErrInvalidMove = errors.New("move must be one of rock, paper, scissors")

// beats maps each move to the move it defeats.
var beats = map[Move]Move{
	MoveRock:     MoveScissors,
	MoveScissors: MovePaper,
	MovePaper:    MoveRock,
}

// Judge evaluates a round from a's perspective.
func Judge(a, b Move) Outcome {
	if a == b {
		return OutcomeDraw
	}
	if beats[a] == b {
		return OutcomeWin
	}
	return OutcomeLose
}

// ParseMove accepts canonical move names and single-letter aliases.
func ParseMove(s string) (Move, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "r", "rock":
		return MoveRock, nil
	case "p", "paper":
		return MovePaper, nil
	case "s", "scissors":
		return MoveScissors, nil
	}
	return "", ErrInvalidMove
}

// WinsNeeded is the score that ends a best-of-n match.
func WinsNeeded(bestOf int) int {
	return bestOf/2 + 1
}
