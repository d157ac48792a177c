package story

// Phase is the narrative stage of a turn.
type Phase string

const (
	PhaseOpening   Phase = "opening"
	PhaseAdventure Phase = "adventure"
	PhaseWrapUp    Phase = "wrap-up"
	PhaseEnding    Phase = "ending"
)

// Tone is the emotional register requested for a turn.
type Tone string

const (
	ToneCurious    Tone = "curious"
	ToneExciting   Tone = "exciting"
	ToneTense      Tone = "tense"
	ToneTriumphant Tone = "triumphant"
	ToneConclusive Tone = "conclusive"
)

// PhaseFor returns the phase of turn n in a story of maxTurns turns.
func PhaseFor(n, maxTurns int) Phase {
	switch {
	case n >= maxTurns:
		return PhaseEnding
	case n <= 1:
		return PhaseOpening
	case n >= maxTurns-2:
		return PhaseWrapUp
	default:
		return PhaseAdventure
	}
}

// ToneFor maps story progress n/maxTurns to a tone.
func ToneFor(n, maxTurns int) Tone {
	if maxTurns <= 0 {
		return ToneConclusive
	}
	p := float64(n) / float64(maxTurns)
	switch {
	case p < 0.2:
		return ToneCurious
	case p < 0.5:
		return ToneExciting
	case p < 0.75:
		return ToneTense
	case p < 1:
		return ToneTriumphant
	default:
		return ToneConclusive
	}
}
