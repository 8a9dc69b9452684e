// prompt.go renders the prompts MatchRunner sends to competing agents and
// judges, and parses a judge's structured JSON reply back into a
// model.JudgeEvaluation. Schema generation is grounded on the reference
// server's MCP tool surface, which reflects Go structs into JSON Schema
// via invopop/jsonschema rather than hand-writing schema literals.
package match

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"arena/internal/arena/model"
)

// judgeWire is the external wire shape a judge model is asked to produce:
// recommendedWinner is an agentId string or null, matching spec.md §6.2's
// SSE contract, even though MatchRunner immediately converts it to the
// internal tagged RecommendedWinner variant.
type judgeWire struct {
	Agent1TotalScore    float64                `json:"agent1TotalScore" jsonschema:"minimum=0,maximum=10"`
	Agent2TotalScore    float64                `json:"agent2TotalScore" jsonschema:"minimum=0,maximum=10"`
	RecommendedWinner   *string                `json:"recommendedWinner" jsonschema:"description=agentId of the stronger response, or null for a draw"`
	OverallReasoning    string                 `json:"overallReasoning"`
	ComparativeAnalysis string                 `json:"comparativeAnalysis,omitempty"`
	KeyDifferentiators  []string               `json:"keyDifferentiators,omitempty"`
	EvaluationQuality   float64                `json:"evaluationQuality" jsonschema:"minimum=0,maximum=1,description=self-reported confidence"`
	CriterionScores     []model.CriterionScore `json:"criterionScores,omitempty"`
}

var judgeSchema map[string]any

func init() {
	reflector := &jsonschema.Reflector{DoNotReference: true}
	s := reflector.Reflect(&judgeWire{})
	raw, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(raw, &judgeSchema); err != nil {
		panic(err)
	}
}

// judgePrompt implements judge.PromptBuilder, grounded on the challenge
// and full transcript of a completed match.
type judgePrompt struct{}

func (judgePrompt) JudgePrompt(m model.Match) (string, map[string]any) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are judging a %s challenge between two competing agents.\n\n", m.Type)
	b.WriteString("Respond only with JSON matching the provided schema.\n\n")

	if len(m.Transcript) > 0 {
		b.WriteString("Debate transcript, in order:\n")
		for i, r := range m.Transcript {
			fmt.Fprintf(&b, "Turn %d (%s): %s\n\n", i+1, r.AgentID, r.Text)
		}
	} else {
		if m.Agent1Response != nil {
			fmt.Fprintf(&b, "Agent %s response:\n%s\n\n", m.Agent1ID, m.Agent1Response.Text)
		}
		if m.Agent2Response != nil {
			fmt.Fprintf(&b, "Agent %s response:\n%s\n\n", m.Agent2ID, m.Agent2Response.Text)
		}
	}

	fmt.Fprintf(&b, "Agent 1 id: %s\nAgent 2 id: %s\n", m.Agent1ID, m.Agent2ID)
	return b.String(), judgeSchema
}

// ParseJudgeResponse implements judge.ResponseParser.
func ParseJudgeResponse(m model.Match, judgeID, raw string) (model.JudgeEvaluation, error) {
	var w judgeWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return model.JudgeEvaluation{}, fmt.Errorf("judge %s: invalid structured output: %w", judgeID, err)
	}
	rec := model.RecommendNone
	if w.RecommendedWinner != nil {
		switch *w.RecommendedWinner {
		case m.Agent1ID:
			rec = model.RecommendAgent1
		case m.Agent2ID:
			rec = model.RecommendAgent2
		}
	}
	return model.JudgeEvaluation{
		JudgeID:             judgeID,
		Agent1TotalScore:    w.Agent1TotalScore,
		Agent2TotalScore:    w.Agent2TotalScore,
		RecommendedWinner:   rec,
		OverallReasoning:    w.OverallReasoning,
		ComparativeAnalysis: w.ComparativeAnalysis,
		KeyDifferentiators:  w.KeyDifferentiators,
		EvaluationQuality:   w.EvaluationQuality,
		CriterionScores:     w.CriterionScores,
	}, nil
}

// JudgePromptBuilder returns the judge.PromptBuilder implementation
// ArenaScheduler wires into judge.New.
func JudgePromptBuilder() judgePrompt { return judgePrompt{} }

// duelPrompt is what a RegularDuel/KingChallenge competitor receives: the
// raw challenge text and nothing else, per spec.md §4.6.
func duelPrompt(c model.Challenge) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Challenge: %s\n\n%s\n", c.Title, c.Description)
	if c.Type == model.ChallengeMathematical || c.Type == model.ChallengeLogicalReasoning {
		b.WriteString("\nShow your reasoning, then state your final answer clearly.\n")
	}
	return b.String()
}

// debateTurnPrompt feeds the challenge and the transcript so far to the
// next speaker, assigning a pro/con stance by turn parity (SPEC_FULL.md
// §12's debate-stance-assignment supplement, grounded on the original
// implementation's debate-mode prompt construction).
func debateTurnPrompt(c model.Challenge, stance string, transcript []model.AgentResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Debate topic: %s\n\n%s\n\n", c.Title, c.Description)
	fmt.Fprintf(&b, "You are arguing the %s position.\n\n", stance)
	if len(transcript) == 0 {
		b.WriteString("Give your opening statement.\n")
	} else {
		b.WriteString("Transcript so far:\n")
		for i, r := range transcript {
			fmt.Fprintf(&b, "Turn %d (%s): %s\n\n", i+1, r.AgentID, r.Text)
		}
		b.WriteString("Respond to the previous turn. If you believe the debate has run its course, end your response with <END>.\n")
	}
	return b.String()
}
