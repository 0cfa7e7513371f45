// Package gate decides whether an incoming challenge is played or declined.
package gate

import (
	"strings"

	"github.com/squirebot/squire/internal/arena"
)

// Policy is the immutable acceptance configuration.
type Policy struct {
	speeds           map[string]struct{}
	variants         map[string]struct{}
	acceptRated      bool
	maxDailyBotGames int
}

func NewPolicy(speeds, variants []string, acceptRated bool, maxDailyBotGames int) Policy {
	return Policy{
		speeds:           toSet(speeds),
		variants:         toSet(variants),
		acceptRated:      acceptRated,
		maxDailyBotGames: maxDailyBotGames,
	}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}

func (p Policy) MaxDailyBotGames() int { return p.maxDailyBotGames }

type Decision struct {
	Accept bool
	Reason string // decline reason code, empty on accept
}

func accepted() Decision { return Decision{Accept: true} }

func declined(reason string) Decision { return Decision{Reason: reason} }

// Decide is pure: same challenge, policy and counter always yield the same
// decision. Reasons are checked in a fixed priority order. The caller owns
// incrementing the daily counter on an accepted bot challenge.
func Decide(c arena.Challenge, p Policy, botGamesToday int) Decision {
	if _, ok := p.variants[strings.ToLower(c.Variant)]; !ok {
		return declined(arena.DeclineVariant)
	}
	if _, ok := p.speeds[strings.ToLower(c.Speed)]; !ok {
		return declined(arena.DeclineSpeed)
	}
	if c.Rated && !p.acceptRated {
		return declined(arena.DeclineCasualOnly)
	}
	if c.Challenger.Bot && botGamesToday >= p.maxDailyBotGames {
		return declined(arena.DeclineDailyBotLimit)
	}
	return accepted()
}
