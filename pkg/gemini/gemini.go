// Package gemini backs the meeting agent with the Google Gemini API:
// contextual follow-up questions, end-of-meeting lead analysis, and
// speech synthesis for the agent's voice.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/agent"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/protocol"
)

const (
	// DefaultModel is the text model used for questions and analysis.
	DefaultModel = "gemini-2.0-flash"

	// DefaultTTSModel is the speech synthesis model.
	DefaultTTSModel = "gemini-2.5-flash-preview-tts"

	// defaultTTSRate is the PCM rate Gemini speech models emit when the
	// response does not declare one.
	defaultTTSRate = 24000
)

// Client adapts the Gemini API to the agent's backend contracts.
type Client struct {
	api      *genai.Client
	model    string
	ttsModel string
}

var (
	_ agent.Responder   = (*Client)(nil)
	_ agent.Analyzer    = (*Client)(nil)
	_ agent.Synthesizer = (*Client)(nil)
)

// Option configures the Client.
type Option func(*Client)

// WithModel overrides the text model.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTTSModel overrides the speech model.
func WithTTSModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.ttsModel = model
		}
	}
}

// New dials the Gemini API with the given key.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	c := &Client{api: api, model: DefaultModel, ttsModel: DefaultTTSModel}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NextUtterance generates the next discovery question from recent
// conversation context.
func (c *Client) NextUtterance(ctx context.Context, transcript []agent.Turn, remaining []string) (string, error) {
	resp, err := c.api.Models.GenerateContent(ctx, c.model, genai.Text(nextQuestionPrompt(transcript, remaining)), nil)
	if err != nil {
		return "", fmt.Errorf("generate next question: %w", err)
	}
	q := strings.TrimSpace(resp.Text())
	q = strings.Trim(q, `"`)
	if q == "" {
		return "", fmt.Errorf("generate next question: empty response")
	}
	return q, nil
}

// Analyze scores the finished conversation as a sales lead.
func (c *Client) Analyze(ctx context.Context, transcript []agent.Turn) (agent.LeadAnalysis, error) {
	resp, err := c.api.Models.GenerateContent(ctx, c.model, genai.Text(analysisPrompt(transcript)), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return agent.LeadAnalysis{}, fmt.Errorf("analyze conversation: %w", err)
	}
	var analysis agent.LeadAnalysis
	if err := json.Unmarshal([]byte(extractJSON(resp.Text())), &analysis); err != nil {
		return agent.LeadAnalysis{}, fmt.Errorf("analyze conversation: decode: %w", err)
	}
	if analysis.LeadScore < 0 {
		analysis.LeadScore = 0
	}
	if analysis.LeadScore > 100 {
		analysis.LeadScore = 100
	}
	return analysis, nil
}

// Synthesize renders the utterance as PCM speech audio.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (agent.Audio, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
	}
	if voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	resp, err := c.api.Models.GenerateContent(ctx, c.ttsModel, genai.Text(text), cfg)
	if err != nil {
		return agent.Audio{}, fmt.Errorf("synthesize speech: %w", err)
	}
	data, rate := audioPayload(resp)
	if len(data) == 0 {
		return agent.Audio{}, fmt.Errorf("synthesize speech: response carried no audio")
	}
	if rate <= 0 {
		rate = defaultTTSRate
	}
	return agent.Audio{Data: data, Format: protocol.AudioFormatPCM16LE, SampleRate: rate}, nil
}

func audioPayload(resp *genai.GenerateContentResponse) ([]byte, int) {
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, sampleRateFromMIME(part.InlineData.MIMEType)
			}
		}
	}
	return nil, 0
}

// sampleRateFromMIME pulls the rate parameter out of a type like
// "audio/L16;codec=pcm;rate=24000". Returns 0 when absent.
func sampleRateFromMIME(mime string) int {
	for _, param := range strings.Split(mime, ";") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(param), "rate="); ok {
			if rate, err := strconv.Atoi(rest); err == nil {
				return rate
			}
		}
	}
	return 0
}

// extractJSON cuts the response down to the outermost JSON object. Models
// sometimes wrap the object in markdown fences or prose.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end <= start {
		return s
	}
	return s[start : end+1]
}

func nextQuestionPrompt(transcript []agent.Turn, remaining []string) string {
	var b strings.Builder
	b.WriteString("You are an AI sales assistant running a discovery meeting. Based on the conversation so far, generate the next most appropriate question.\n\nConversation so far:\n")
	start := 0
	if len(transcript) > 6 {
		start = len(transcript) - 6
	}
	for _, turn := range transcript[start:] {
		speaker := "Human"
		if turn.Kind == protocol.KindAI {
			speaker = "AI"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, turn.Text)
	}
	if len(remaining) > 0 {
		b.WriteString("\nRemaining planned questions:\n")
		for i, q := range remaining {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	b.WriteString(`
Generate a natural follow-up question that:
1. Builds on what they just said
2. Digs deeper into their needs or challenges
3. Helps qualify their budget and timeline
4. Feels conversational and not scripted
5. Is open-ended to encourage detailed responses

Return only the question, no additional text.`)
	return b.String()
}

func analysisPrompt(transcript []agent.Turn) string {
	var b strings.Builder
	b.WriteString("Analyze this sales discovery conversation.\n\nCONVERSATION:\n")
	for _, turn := range transcript {
		speaker := "Prospect"
		if turn.Kind == protocol.KindAI {
			speaker = "AI Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, turn.Text)
	}
	b.WriteString(`
Provide a comprehensive analysis in JSON format with these fields:

{
  "summary": "2-3 sentence summary of the conversation",
  "lead_score": 85,
  "key_insights": ["Insight about their business needs", "Insight about their challenges"],
  "pain_points": ["Main pain point", "Another pain point"],
  "opportunities": ["Sales opportunity", "Another opportunity"],
  "budget_indicators": "What they revealed about budget",
  "timeline_indicators": "What they revealed about timeline",
  "decision_makers": "Who makes decisions",
  "next_steps": ["Recommended action", "Another action"],
  "follow_up_questions": ["Question to ask in follow-up"],
  "qualification_status": "qualified|partially_qualified|not_qualified",
  "notes": "Additional notes for the sales team"
}

Score the lead from 0-100 based on:
- Budget fit (25 points)
- Timeline urgency (25 points)
- Authority/decision making (25 points)
- Need/pain level (25 points)

Return only valid JSON.`)
	return b.String()
}
