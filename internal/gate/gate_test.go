package gate

import (
	"testing"
	"time"

	"github.com/squirebot/squire/internal/arena"
)

func testPolicy() Policy {
	return NewPolicy([]string{"blitz", "rapid"}, []string{"standard"}, false, 5)
}

func blitzChallenge() arena.Challenge {
	return arena.Challenge{
		ID:          "ch1",
		Challenger:  arena.Player{Name: "human1"},
		Variant:     "standard",
		Speed:       "blitz",
		Rated:       false,
		TimeControl: arena.TimeControl{Limit: 300, Increment: 5},
	}
}

func TestDecideAcceptsCasualBlitz(t *testing.T) {
	d := Decide(blitzChallenge(), testPolicy(), 0)
	if !d.Accept {
		t.Fatalf("decision = %+v, want accept", d)
	}
	if d.Reason != "" {
		t.Fatalf("accept carried reason %q", d.Reason)
	}
}

func TestDecideRejectsUnsupportedSpeed(t *testing.T) {
	c := blitzChallenge()
	c.Speed = "bullet"
	d := Decide(c, testPolicy(), 0)
	if d.Accept || d.Reason != arena.DeclineSpeed {
		t.Fatalf("decision = %+v, want speedNotSupported", d)
	}
}

func TestDecideVariantOutranksSpeed(t *testing.T) {
	c := blitzChallenge()
	c.Variant = "atomic"
	c.Speed = "bullet"
	d := Decide(c, testPolicy(), 0)
	if d.Reason != arena.DeclineVariant {
		t.Fatalf("reason = %q, want variantNotSupported first", d.Reason)
	}
}

func TestDecideCasualOnly(t *testing.T) {
	c := blitzChallenge()
	c.Rated = true
	d := Decide(c, testPolicy(), 0)
	if d.Accept || d.Reason != arena.DeclineCasualOnly {
		t.Fatalf("decision = %+v, want casualOnly", d)
	}

	ratedOK := NewPolicy([]string{"blitz"}, []string{"standard"}, true, 5)
	if d := Decide(c, ratedOK, 0); !d.Accept {
		t.Fatalf("decision = %+v, want accept when rated allowed", d)
	}
}

func TestDecideDailyBotLimit(t *testing.T) {
	c := blitzChallenge()
	c.Challenger.Bot = true
	p := testPolicy()

	if d := Decide(c, p, 5); d.Accept || d.Reason != arena.DeclineDailyBotLimit {
		t.Fatalf("at limit: decision = %+v", d)
	}
	if d := Decide(c, p, 4); !d.Accept {
		t.Fatalf("one below limit: decision = %+v", d)
	}
	// Humans are never limited by the bot counter.
	c.Challenger.Bot = false
	if d := Decide(c, p, 500); !d.Accept {
		t.Fatalf("human at huge count: decision = %+v", d)
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	c := blitzChallenge()
	c.Challenger.Bot = true
	p := testPolicy()
	first := Decide(c, p, 3)
	for i := 0; i < 10; i++ {
		if got := Decide(c, p, 3); got != first {
			t.Fatalf("run %d: decision = %+v, first = %+v", i, got, first)
		}
	}
}

func TestDecideNormalizesCase(t *testing.T) {
	c := blitzChallenge()
	c.Speed = "Blitz"
	c.Variant = "Standard"
	if d := Decide(c, testPolicy(), 0); !d.Accept {
		t.Fatalf("decision = %+v, want case-insensitive accept", d)
	}
}

func TestDailyCounterRollsOverOncePerDay(t *testing.T) {
	clock := time.Date(2024, 3, 1, 23, 50, 0, 0, time.Local)
	d := NewDailyCounter(func() time.Time { return clock })

	d.Increment()
	d.Increment()
	if d.Count() != 2 {
		t.Fatalf("count = %d", d.Count())
	}

	clock = clock.Add(20 * time.Minute) // crosses midnight
	if d.Count() != 0 {
		t.Fatalf("count after rollover = %d", d.Count())
	}
	d.Increment()
	if d.Count() != 1 {
		t.Fatalf("count = %d", d.Count())
	}

	// Same day later on: no second reset.
	clock = clock.Add(6 * time.Hour)
	if d.Count() != 1 {
		t.Fatalf("count lost within the same day: %d", d.Count())
	}
}

func TestDailyCounterSeed(t *testing.T) {
	clock := time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)
	d := NewDailyCounter(func() time.Time { return clock })
	d.Seed(7)
	if d.Count() != 7 {
		t.Fatalf("count = %d", d.Count())
	}
	d.Seed(-3)
	if d.Count() != 0 {
		t.Fatalf("negative seed clamped: count = %d", d.Count())
	}
}
