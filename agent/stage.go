package agent

import (
	"context"
	"regexp"
	"strings"

	"github.com/nevindra/dossier"
	"github.com/nevindra/dossier/cards"
	"github.com/nevindra/dossier/memory"
)

// Turn is the state shared by the stages of one Handle call.
type Turn struct {
	Request   Request
	Text      string
	Dossier   *Dossier
	IsCommand bool

	Recalled []string
	Messages []dossier.ChatMessage
	Tokens   int
	Reply    string

	// Response is returned to the caller once the pipeline stops.
	Response string
	// Continue is cleared by a stage to stop the pipeline after it.
	Continue bool
}

// Halt stops the pipeline with resp as the reply.
func (t *Turn) Halt(resp string) {
	t.Response = resp
	t.Continue = false
}

// Stage is one step of the pipeline.
type Stage interface {
	Name() string
	Process(ctx context.Context, t *Turn) error
}

// pipeline returns the stages in execution order.
func (a *Agent) pipeline() []Stage {
	return []Stage{
		parseStage{a},
		authenticateStage{a},
		recallStage{a},
		formatStage{a},
		monitorStage{a},
		callStage{a},
		workingMemoryStage{},
		gatekeeperStage{a},
	}
}

const commandPrefix = "//"

var selfDeclarations = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name is ([\p{L}\p{N}_]+)`),
	regexp.MustCompile(`(?i)\bi am ([\p{L}\p{N}_]+)`),
	regexp.MustCompile(`(?i)\bi'm ([\p{L}\p{N}_]+)`),
}

// declaredName returns the name in the first matching self-declaration.
func declaredName(text string) (string, bool) {
	for _, re := range selfDeclarations {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

type parseStage struct{ a *Agent }

func (parseStage) Name() string { return "parse" }

func (s parseStage) Process(ctx context.Context, t *Turn) error {
	text := strings.TrimSpace(t.Text)
	if strings.HasPrefix(text, commandPrefix) {
		t.IsCommand = true
		t.Halt(s.a.dispatch(ctx, t, text))
		return nil
	}
	raw, ok := declaredName(text)
	if !ok {
		return nil
	}
	userID := memory.SanitizeID(raw)
	if userID == "" {
		return nil
	}
	t.Dossier = s.a.switchDossier(userID)
	t.Halt("ACK: Hello " + raw + "! I've loaded your dossier.")
	return nil
}

const (
	identifyPrompt = "Hello! To get started and so I can remember our conversation, " +
		"could you please tell me who I'm speaking with today? " +
		"(e.g., `//user Scott` or `My name is Scott`)"
	identifyHint = "I'm sorry, I still didn't understand. To set your active profile, " +
		"please say 'my name is' followed by your name, or use the command: `//user YourName`"
)

type authenticateStage struct{ a *Agent }

func (authenticateStage) Name() string { return "authenticate" }

func (s authenticateStage) Process(ctx context.Context, t *Turn) error {
	if t.IsCommand || t.Dossier.UserID != s.a.cfg.InitialUser {
		return nil
	}
	if userID, ok := s.a.memory.Identify(ctx, t.Text); ok {
		s.a.logger.Info("speaker identified by signature", "user_id", userID)
		t.Dossier = s.a.switchDossier(userID)
		return nil
	}
	if t.Dossier.identityPrompted {
		t.Halt(identifyHint)
		return nil
	}
	t.Dossier.identityPrompted = true
	t.Halt(identifyPrompt)
	return nil
}

type recallStage struct{ a *Agent }

func (recallStage) Name() string { return "recall" }

func (s recallStage) Process(ctx context.Context, t *Turn) error {
	if t.IsCommand {
		return nil
	}
	t.Recalled = s.a.memory.Recall(ctx, t.Dossier.UserID, t.Text)
	return nil
}

type formatStage struct{ a *Agent }

func (formatStage) Name() string { return "format" }

func (s formatStage) Process(_ context.Context, t *Turn) error {
	d := t.Dossier
	system := s.a.cards.Text(cards.Persona, d.PersonaID) +
		"\n\n--- ABILITIES ---\n" + s.a.cards.Text(cards.Ability, d.AbilityID) +
		"\n\n--- STYLE ---\n" + s.a.cards.Text(cards.Engine, d.EngineID)

	history := d.History()
	msgs := make([]dossier.ChatMessage, 0, len(history)+3)
	msgs = append(msgs, dossier.SystemMessage(system))
	if len(t.Recalled) > 0 {
		msgs = append(msgs, dossier.SystemMessage(memoryContext(t.Recalled)))
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, dossier.UserMessage(t.Text))
	t.Messages = msgs
	return nil
}

func memoryContext(facts []string) string {
	var b strings.Builder
	b.WriteString("CONTEXT FROM MEMORY:")
	for _, f := range facts {
		b.WriteString("\n- ")
		b.WriteString(f)
	}
	return b.String()
}

type monitorStage struct{ a *Agent }

func (monitorStage) Name() string { return "monitor" }

func (s monitorStage) Process(_ context.Context, t *Turn) error {
	t.Tokens = EstimateTokens(t.Messages)
	note := dossier.SystemMessage(ContextAnnotation(t.Tokens, s.a.cfg.ContextLimit))
	if len(t.Messages) == 0 {
		t.Messages = append(t.Messages, note)
		return nil
	}
	t.Messages = append(t.Messages[:1], append([]dossier.ChatMessage{note}, t.Messages[1:]...)...)
	return nil
}

const callFailedReply = "I'm sorry, I ran into a problem reaching my language model. Please try again in a moment."

type callStage struct{ a *Agent }

func (callStage) Name() string { return "call" }

func (s callStage) Process(ctx context.Context, t *Turn) error {
	ctx, cancel := context.WithTimeout(ctx, s.a.cfg.ChatTimeout)
	defer cancel()
	resp, err := s.a.llm.Chat(dossier.WithPurpose(ctx, dossier.PurposeTurn), dossier.ChatRequest{Messages: t.Messages, Model: t.Request.Model})
	if err != nil {
		s.a.logger.Error("chat completion failed", "user_id", t.Dossier.UserID,
			"model", t.Request.Model, "error", err)
		t.Halt(callFailedReply)
		return nil
	}
	t.Reply = strings.TrimSpace(resp.Content)
	t.Response = t.Reply
	return nil
}

type workingMemoryStage struct{}

func (workingMemoryStage) Name() string { return "working_memory" }

func (workingMemoryStage) Process(_ context.Context, t *Turn) error {
	if t.Text == "" || t.Reply == "" {
		return nil
	}
	t.Dossier.AddMessage(dossier.RoleUser, t.Text)
	t.Dossier.AddMessage(dossier.RoleAssistant, t.Reply)
	return nil
}

type gatekeeperStage struct{ a *Agent }

func (gatekeeperStage) Name() string { return "gatekeeper" }

func (s gatekeeperStage) Process(ctx context.Context, t *Turn) error {
	if t.Reply == "" || t.IsCommand || !memory.ShouldExtract(t.Text) {
		return nil
	}
	s.a.rememberInBackground(ctx, t.Dossier.UserID, t.Text, t.Request.Model)
	return nil
}

// rememberInBackground queues fact enrichment for utterance. The task gets
// copies of everything it needs and never touches the agent's state.
func (a *Agent) rememberInBackground(ctx context.Context, speakerID, utterance, model string) {
	a.pool.Submit(ctx, "remember", func(ctx context.Context) error {
		_, err := a.memory.RememberUtterance(ctx, speakerID, utterance, model)
		return err
	})
}
