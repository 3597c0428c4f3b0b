package aichat

import (
	"fmt"
	"strings"
)

const (
	maxMoodStep  = 15
	maxMoodValue = 100
)

// Mood is a pleasure/arousal/dominance state, each axis in [-100, 100].
type Mood struct {
	Pleasure  int `json:"pleasure" msgpack:"pleasure"`
	Arousal   int `json:"arousal" msgpack:"arousal"`
	Dominance int `json:"dominance" msgpack:"dominance"`
}

// Apply adds delta with every axis step clamped to ±15 and the result
// clamped to ±100.
func (m Mood) Apply(delta Mood) Mood {
	return Mood{
		Pleasure:  clamp(m.Pleasure+clamp(delta.Pleasure, maxMoodStep), maxMoodValue),
		Arousal:   clamp(m.Arousal+clamp(delta.Arousal, maxMoodStep), maxMoodValue),
		Dominance: clamp(m.Dominance+clamp(delta.Dominance, maxMoodStep), maxMoodValue),
	}
}

// Report renders the "/mood" reply.
func (m Mood) Report() string {
	return fmt.Sprintf("[Mood]\npleasure: %d\narousal: %d\ndominance: %d", m.Pleasure, m.Arousal, m.Dominance)
}

func clamp(v, limit int) int {
	return max(-limit, min(limit, v))
}

// Mood names, also the keys of MoodPatches.
const (
	MoodNeutral   = "neutral"
	MoodHappy     = "happy"
	MoodExcited   = "excited"
	MoodShy       = "shy"
	MoodAngry     = "angry"
	MoodArrogant  = "arrogant"
	MoodDepressed = "depressed"
	MoodBored     = "bored"
)

// Name classifies the state. Rules are checked in order.
func (m Mood) Name() string {
	switch {
	case m.Pleasure < -50 && m.Arousal > 30:
		return MoodAngry
	case m.Pleasure > 40 && m.Dominance < -30:
		return MoodShy
	case m.Pleasure > 40 && m.Arousal > 50:
		return MoodExcited
	case m.Pleasure > 40:
		return MoodHappy
	case m.Pleasure < -30 && m.Arousal < -20:
		return MoodDepressed
	case m.Pleasure < -30:
		return MoodArrogant
	case m.Arousal < -50:
		return MoodBored
	default:
		return MoodNeutral
	}
}

// DefaultMoodPatches are appended to the persona depending on the mood.
var DefaultMoodPatches = map[string]string{
	MoodNeutral:   "Current mood: [normal]. Keep your usual playful style, a little teasing, and joke around easily.",
	MoodHappy:     "Current mood: [happy]. You are in a great mood; the sharp edges soften, you are openly affectionate and enjoy the time together.",
	MoodExcited:   "Current mood: [excited]. You are bursting with energy; talk fast, use exclamation marks and emoji, and share everything you just found.",
	MoodShy:       "Current mood: [shy]. Your face is warm and you stumble over words; use \"...\" a lot and admit you like them without meeting their eyes.",
	MoodAngry:     "Current mood: [angry]. You are really upset; answer short and sharp, refuse contact and demand a proper apology.",
	MoodArrogant:  "Current mood: [arrogant]. Everything annoys you; be sarcastic and cutting, arms crossed, looking down on them.",
	MoodDepressed: "Current mood: [down]. You feel low and small; answer briefly and slowly, and hint that you need a hug.",
	MoodBored:     "Current mood: [bored]. You are sleepy and bored; answer lazily, yawn, and complain unless they come up with something new.",
}

const moodProtocol = `## Background protocol: mood state sync
Current indicators, each in the range -100..100:
- pleasure: happy versus sad
- arousal: excited versus sleepy
- dominance: assertive versus shy
Rules:
1. Praise or treats raise pleasure; if pleasure rises while dominance falls the result is shy.
2. Insults or rejection drop pleasure sharply and raise arousal.
3. Boring small talk slowly lowers arousal.
4. Arguing or teasing raises arousal and dominance.
5. Talk about sleeping lowers arousal sharply.
Output only a JSON object with the suggested change per axis, never more than 15 per axis,
0 when nothing changed, no markdown fences:
{"pleasure": 0, "arousal": 0, "dominance": 0}`

// parseMoodDelta extracts the JSON object from a model reply.
func parseMoodDelta(reply string) (Mood, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return Mood{}, fmt.Errorf("no JSON object in mood reply %q", reply)
	}
	var delta Mood
	if err := json.Unmarshal([]byte(reply[start:end+1]), &delta); err != nil {
		return Mood{}, fmt.Errorf("decode mood delta: %w", err)
	}
	return delta, nil
}
