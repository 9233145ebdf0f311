// Package agent runs the AI discovery host: an in-process meeting
// participant that greets the room, works through a bounded list of
// discovery questions, and closes the meeting with a lead analysis. The
// language, speech and analysis providers are interfaces so the host runs
// fully scripted when no model backend is configured.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/protocol"
)

// Turn is one transcript line as the host saw it.
type Turn struct {
	Speaker string
	Kind    protocol.ParticipantKind
	Text    string
	At      time.Time
}

// Audio is one synthesized utterance.
type Audio struct {
	Data       []byte
	Format     string // protocol.AudioFormatPCM16LE or protocol.AudioFormatMP3
	SampleRate int    // samples per second for PCM payloads
}

// Responder produces the host's next utterance once the scripted question
// list runs out.
type Responder interface {
	NextUtterance(ctx context.Context, transcript []Turn, remaining []string) (string, error)
}

// Synthesizer turns an utterance into audio. Failures are not fatal: the
// host falls back to a plain text message.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (Audio, error)
}

// Analyzer scores the finished conversation for the sales team.
type Analyzer interface {
	Analyze(ctx context.Context, transcript []Turn) (LeadAnalysis, error)
}

// LeadAnalysis is the discovery outcome broadcast in meeting_completed.
type LeadAnalysis struct {
	Summary             string   `json:"summary"`
	LeadScore           int      `json:"lead_score"`
	KeyInsights         []string `json:"key_insights"`
	PainPoints          []string `json:"pain_points"`
	Opportunities       []string `json:"opportunities"`
	BudgetIndicators    string   `json:"budget_indicators"`
	TimelineIndicators  string   `json:"timeline_indicators"`
	DecisionMakers      string   `json:"decision_makers"`
	NextSteps           []string `json:"next_steps"`
	FollowUpQuestions   []string `json:"follow_up_questions"`
	QualificationStatus string   `json:"qualification_status"`
	Notes               string   `json:"notes"`
}

// DefaultQuestions is the standard discovery plan used when no custom set
// is configured.
func DefaultQuestions() []string {
	return []string{
		"Can you tell me about your company and what you do?",
		"What are the main challenges you're facing in your business right now?",
		"How are you currently handling these challenges?",
		"What would an ideal solution look like for you?",
		"What's your timeline for making a decision on this?",
		"Who else would be involved in the decision-making process?",
		"What budget range are you working with for this project?",
	}
}

// ScriptedResponder replays the remaining plan verbatim; it is the
// fallback when no model backend is configured.
type ScriptedResponder struct{}

func (ScriptedResponder) NextUtterance(ctx context.Context, transcript []Turn, remaining []string) (string, error) {
	if len(remaining) > 0 {
		return remaining[0], nil
	}
	return "Can you tell me more about your current challenges?", nil
}

// ScriptedAnalyzer scores engagement by response count alone.
type ScriptedAnalyzer struct{}

func (ScriptedAnalyzer) Analyze(ctx context.Context, transcript []Turn) (LeadAnalysis, error) {
	return DefaultAnalysis(transcript), nil
}

// DefaultAnalysis is the heuristic fallback used when no analyzer backend
// is available or its output cannot be decoded. Engagement earns up to 70
// points; real qualification is left to the follow-up.
func DefaultAnalysis(transcript []Turn) LeadAnalysis {
	responses := 0
	for _, turn := range transcript {
		if turn.Kind == protocol.KindHuman {
			responses++
		}
	}
	score := responses * 10
	if score > 70 {
		score = 70
	}
	return LeadAnalysis{
		Summary:   fmt.Sprintf("Had a discovery conversation with the prospect. They provided %d responses during our discussion.", responses),
		LeadScore: score,
		KeyInsights: []string{
			"Prospect engaged in conversation",
			fmt.Sprintf("Provided %d detailed responses", responses),
		},
		PainPoints:          []string{"Specific pain points to be identified in follow-up"},
		Opportunities:       []string{"Potential sales opportunity identified", "Needs further qualification"},
		BudgetIndicators:    "Budget discussion needed",
		TimelineIndicators:  "Timeline to be determined",
		DecisionMakers:      "Decision makers to be identified",
		NextSteps:           []string{"Schedule follow-up call", "Send additional information", "Qualify budget and timeline"},
		QualificationStatus: "partially_qualified",
		Notes:               "Automated heuristic analysis; no language model was available.",
	}
}
