// Package planning runs the interactive phase machine that precedes task
// generation: Discovery (questions), Design (decision points), Review
// (summary), and Approval, which seeds a planner session with an enhanced
// instruction.
package planning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Iron-Ham/maestro/internal/agent"
	"github.com/Iron-Ham/maestro/internal/errors"
	"github.com/Iron-Ham/maestro/internal/logging"
	"github.com/Iron-Ham/maestro/internal/session"
)

// enhancedInstructionMaxChars caps the approval output at roughly 2000
// tokens using the characters/4 heuristic.
const enhancedInstructionMaxChars = 2000 * 4

// Config carries the planning machine's tunables.
type Config struct {
	AgentType string
	Model     string
}

// Planning drives planning sessions through their phases.
type Planning struct {
	sessions *session.Store
	runner   agent.Runner
	cfg      Config
	logger   *logging.Logger
}

// New creates a Planning machine.
func New(sessions *session.Store, runner agent.Runner, cfg Config, logger *logging.Logger) *Planning {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Planning{sessions: sessions, runner: runner, cfg: cfg, logger: logger}
}

// Start creates a planning session in DISCOVERY with agent-generated
// questions about the instruction.
func (p *Planning) Start(ctx context.Context, instruction string) (*session.PlanningSession, error) {
	sess := &session.PlanningSession{
		SessionID:   "plan-" + uuid.NewString()[:8],
		Instruction: instruction,
		Status:      session.PlanningDiscovery,
		CreatedAt:   time.Now().UTC(),
	}

	prompt := fmt.Sprintf(`An engineer wants the following done:

%s

Before planning, list the questions whose answers would change the plan.
Respond with a JSON array: [{"id": "q1", "text": "...", "important": bool}].
Mark a question important only if a wrong guess would waste significant work.
`, instruction)

	var questions []session.Question
	err := p.generateJSON(ctx, sess, prompt, func(raw string) error {
		return json.Unmarshal([]byte(raw), &questions)
	})
	if err != nil {
		return sess, err
	}
	sess.Questions = questions
	if len(questions) == 0 {
		// Nothing to ask; discovery is trivially complete.
		if err := p.enterDesign(ctx, sess); err != nil {
			return sess, err
		}
	} else if err := p.sessions.SavePlanning(sess); err != nil {
		return nil, err
	}
	p.logger.Info("planning session started", "session_id", sess.SessionID, "questions", len(questions))
	return sess, nil
}

// CurrentQuestion returns the question awaiting an answer, or nil when
// discovery is complete.
func (p *Planning) CurrentQuestion(sess *session.PlanningSession) *session.Question {
	if sess.Status != session.PlanningDiscovery {
		return nil
	}
	if sess.CurrentQuestionIndex >= len(sess.Questions) {
		return nil
	}
	return &sess.Questions[sess.CurrentQuestionIndex]
}

// AnswerQuestion records the answer to the current question. Answering the
// last question transitions the session to DESIGN and generates decision
// points.
func (p *Planning) AnswerQuestion(ctx context.Context, sess *session.PlanningSession, answer string) error {
	if sess.Status != session.PlanningDiscovery {
		return errors.NewValidationError("planning session " + sess.SessionID).
			Add("cannot answer questions in phase %s", sess.Status)
	}
	q := p.CurrentQuestion(sess)
	if q == nil {
		return errors.NewValidationError("planning session " + sess.SessionID).
			Add("no question awaiting an answer")
	}
	q.Answer = answer
	q.Answered = true
	sess.CurrentQuestionIndex++

	if sess.CurrentQuestionIndex >= len(sess.Questions) {
		return p.enterDesign(ctx, sess)
	}
	return p.sessions.SavePlanning(sess)
}

// enterDesign transitions to DESIGN and generates decision points from the
// answered questions.
func (p *Planning) enterDesign(ctx context.Context, sess *session.PlanningSession) error {
	sess.Status = session.PlanningDesign
	sess.CurrentDecisionIndex = 0

	var b strings.Builder
	fmt.Fprintf(&b, "Instruction:\n%s\n\nAnswered questions:\n", sess.Instruction)
	for _, q := range sess.Questions {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", q.Text, q.Answer)
	}
	b.WriteString(`
List the design decisions that must be made before implementation.
Respond with a JSON array: [{"id": "d1", "topic": "...", "options": ["..."]}].
`)

	var decisions []session.DecisionPoint
	err := p.generateJSON(ctx, sess, b.String(), func(raw string) error {
		return json.Unmarshal([]byte(raw), &decisions)
	})
	if err != nil {
		return err
	}
	sess.DecisionPoints = decisions
	if len(decisions) == 0 {
		return p.enterReview(ctx, sess)
	}
	return p.sessions.SavePlanning(sess)
}

// CurrentDecision returns the decision point awaiting a choice, or nil.
func (p *Planning) CurrentDecision(sess *session.PlanningSession) *session.DecisionPoint {
	if sess.Status != session.PlanningDesign {
		return nil
	}
	if sess.CurrentDecisionIndex >= len(sess.DecisionPoints) {
		return nil
	}
	return &sess.DecisionPoints[sess.CurrentDecisionIndex]
}

// RecordDecision records the choice for the current decision point.
// Deciding the last point transitions the session to REVIEW.
func (p *Planning) RecordDecision(ctx context.Context, sess *session.PlanningSession, decision string) error {
	if sess.Status != session.PlanningDesign {
		return errors.NewValidationError("planning session " + sess.SessionID).
			Add("cannot record decisions in phase %s", sess.Status)
	}
	d := p.CurrentDecision(sess)
	if d == nil {
		return errors.NewValidationError("planning session " + sess.SessionID).
			Add("no decision awaiting a choice")
	}
	d.Decision = decision
	d.Decided = true
	sess.CurrentDecisionIndex++

	if sess.CurrentDecisionIndex >= len(sess.DecisionPoints) {
		return p.enterReview(ctx, sess)
	}
	return p.sessions.SavePlanning(sess)
}

// enterReview transitions to REVIEW and generates the review summary.
func (p *Planning) enterReview(ctx context.Context, sess *session.PlanningSession) error {
	sess.Status = session.PlanningReview

	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the agreed plan for final review.\n\nInstruction:\n%s\n\n", sess.Instruction)
	for _, q := range sess.Questions {
		if q.Answered {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", q.Text, q.Answer)
		}
	}
	for _, d := range sess.DecisionPoints {
		if d.Decided {
			fmt.Fprintf(&b, "Decision on %s: %s\n", d.Topic, d.Decision)
		}
	}
	b.WriteString("\nWrite a concise summary the engineer can approve or reject.\n")

	resp, err := p.runner.Run(ctx, agent.Request{
		AgentType: p.cfg.AgentType,
		Model:     p.cfg.Model,
		Prompt:    b.String(),
	})
	if err != nil {
		return p.fail(sess, err)
	}
	p.record(sess, b.String(), resp.FinalResponse)
	return p.sessions.SavePlanning(sess)
}

// Approve transitions REVIEW to APPROVED and creates a planner session
// seeded with the enhanced instruction.
func (p *Planning) Approve(sess *session.PlanningSession) (*session.PlannerSession, error) {
	if sess.Status != session.PlanningReview {
		return nil, errors.NewValidationError("planning session " + sess.SessionID).
			Add("cannot approve in phase %s", sess.Status)
	}

	planner := &session.PlannerSession{
		SessionID:   "planner-" + uuid.NewString()[:8],
		Instruction: EnhancedInstruction(sess),
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.sessions.SavePlanner(planner); err != nil {
		return nil, err
	}

	sess.Status = session.PlanningApproved
	sess.PlannerSessionID = planner.SessionID
	if err := p.sessions.SavePlanning(sess); err != nil {
		return nil, err
	}
	p.logger.Info("plan approved",
		"session_id", sess.SessionID,
		"planner_session_id", planner.SessionID,
	)
	return planner, nil
}

// Reject sends a REVIEW session back to DESIGN, or cancels it on the third
// rejection.
func (p *Planning) Reject(sess *session.PlanningSession, reason string) error {
	if sess.Status != session.PlanningReview {
		return errors.NewValidationError("planning session " + sess.SessionID).
			Add("cannot reject in phase %s", sess.Status)
	}
	sess.RejectCount++
	p.record(sess, "", "rejected: "+reason)

	if sess.RejectCount >= session.MaxPlanRejections {
		sess.Status = session.PlanningCancelled
		p.logger.Warn("planning session cancelled after repeated rejections",
			"session_id", sess.SessionID, "rejections", sess.RejectCount)
	} else {
		sess.Status = session.PlanningDesign
		sess.CurrentDecisionIndex = 0
		for i := range sess.DecisionPoints {
			sess.DecisionPoints[i].Decided = false
			sess.DecisionPoints[i].Decision = ""
		}
	}
	return p.sessions.SavePlanning(sess)
}

// EnhancedInstruction concatenates the original instruction, the answered
// important questions, and the recorded decisions, capped at roughly 2000
// tokens.
func EnhancedInstruction(sess *session.PlanningSession) string {
	var b strings.Builder
	b.WriteString(sess.Instruction)

	var qa []string
	for _, q := range sess.Questions {
		if q.Answered && q.Important {
			qa = append(qa, fmt.Sprintf("Q: %s\nA: %s", q.Text, q.Answer))
		}
	}
	if len(qa) > 0 {
		b.WriteString("\n\n## Clarifications\n")
		b.WriteString(strings.Join(qa, "\n"))
	}

	var decided []string
	for _, d := range sess.DecisionPoints {
		if d.Decided {
			decided = append(decided, fmt.Sprintf("- %s: %s", d.Topic, d.Decision))
		}
	}
	if len(decided) > 0 {
		b.WriteString("\n\n## Decisions\n")
		b.WriteString(strings.Join(decided, "\n"))
	}

	out := b.String()
	if len(out) > enhancedInstructionMaxChars {
		// Back off the cut so a multi-byte rune is never split.
		cut := enhancedInstructionMaxChars
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out
}

// generateJSON runs the agent and parses a JSON artifact with one automatic
// retry on malformed output. A second failure transitions the session to
// FAILED.
func (p *Planning) generateJSON(ctx context.Context, sess *session.PlanningSession, prompt string, parse func(raw string) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := p.runner.Run(ctx, agent.Request{
			AgentType: p.cfg.AgentType,
			Model:     p.cfg.Model,
			Prompt:    prompt,
		})
		if err != nil {
			return p.fail(sess, err)
		}
		p.record(sess, prompt, resp.FinalResponse)

		raw, err := extractArray(resp.FinalResponse)
		if err == nil {
			if err := parse(raw); err == nil {
				return nil
			}
		}
		prompt += "\n\nYour previous response was not valid JSON. Respond with only the JSON array."
	}
	return p.fail(sess, errors.NewSessionError("agent produced malformed JSON twice", errors.ErrParse).
		WithSessionID(sess.SessionID))
}

// fail transitions the session to FAILED, best-effort persists it, and
// returns the causing error.
func (p *Planning) fail(sess *session.PlanningSession, cause error) error {
	sess.Status = session.PlanningFailed
	sess.ErrorMessage = cause.Error()
	if err := p.sessions.SavePlanning(sess); err != nil {
		p.logger.Error("failed to persist failed planning session",
			"session_id", sess.SessionID, "error", err.Error())
	}
	return cause
}

func (p *Planning) record(sess *session.PlanningSession, prompt, response string) {
	now := time.Now().UTC()
	if prompt != "" {
		sess.ConversationHistory = append(sess.ConversationHistory,
			session.Message{Role: "user", Content: prompt, Timestamp: now})
	}
	sess.ConversationHistory = append(sess.ConversationHistory,
		session.Message{Role: "assistant", Content: response, Timestamp: now})
}

// extractArray pulls the first balanced JSON array out of a response,
// tolerating fences and surrounding prose.
func extractArray(text string) (string, error) {
	cleaned := text
	if strings.Contains(cleaned, "```") {
		var b strings.Builder
		for _, line := range strings.Split(cleaned, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		cleaned = b.String()
	}
	start := strings.IndexByte(cleaned, '[')
	if start < 0 {
		return "", errors.NewSessionError("no JSON array in response", errors.ErrParse)
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		c := cleaned[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return cleaned[start : i+1], nil
			}
		}
	}
	return "", errors.NewSessionError("unbalanced JSON array in response", errors.ErrParse)
}
