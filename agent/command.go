package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nevindra/dossier/cards"
	"github.com/nevindra/dossier/memory"
)

// Command is a chat command recognized after the "//" prefix.
type Command int

const (
	CmdUser Command = iota
	CmdPersona
	CmdAbility
	CmdEngine
	CmdLoadout
	CmdMem
	CmdRecall
	CmdEnroll
	numCommands
)

var commandNames = [numCommands]string{
	CmdUser:    "user",
	CmdPersona: "persona",
	CmdAbility: "ability",
	CmdEngine:  "engine",
	CmdLoadout: "loadout",
	CmdMem:     "mem",
	CmdRecall:  "recall",
	CmdEnroll:  "enroll",
}

func (c Command) String() string {
	if c < 0 || c >= numCommands {
		return fmt.Sprintf("Command(%d)", int(c))
	}
	return commandNames[c]
}

// ParseCommand maps a command name, in any case, to its Command.
func ParseCommand(name string) (Command, bool) {
	name = strings.ToLower(name)
	for c, n := range commandNames {
		if n == name {
			return Command(c), true
		}
	}
	return 0, false
}

// splitCommand splits "//name args..." into the name and the trimmed rest of
// the first line.
func splitCommand(text string) (name, arg string) {
	line, _, _ := strings.Cut(strings.TrimPrefix(text, commandPrefix), "\n")
	name, arg, _ = strings.Cut(strings.TrimSpace(line), " ")
	return name, strings.TrimSpace(arg)
}

// dispatch runs the command in text and returns the acknowledgement.
func (a *Agent) dispatch(ctx context.Context, t *Turn, text string) string {
	name, arg := splitCommand(text)
	cmd, ok := ParseCommand(name)
	if !ok {
		return fmt.Sprintf("ACK_ERROR: Unknown command '%s'.", strings.ToLower(name))
	}
	a.logger.Info("command", "command", cmd.String(), "user_id", t.Dossier.UserID)

	switch cmd {
	case CmdUser:
		return a.cmdUser(t, arg)
	case CmdPersona:
		return a.cmdCard(t, cards.Persona, arg)
	case CmdAbility:
		return a.cmdCard(t, cards.Ability, arg)
	case CmdEngine:
		return a.cmdCard(t, cards.Engine, arg)
	case CmdLoadout:
		return a.cmdLoadout(t, arg)
	case CmdMem:
		return a.cmdMem(ctx, t, arg)
	case CmdRecall:
		return a.cmdRecall(ctx, t, arg)
	case CmdEnroll:
		return a.cmdEnroll(ctx, t, arg)
	default:
		panic(fmt.Sprintf("agent: unhandled command %v", cmd))
	}
}

func (a *Agent) cmdUser(t *Turn, arg string) string {
	if arg == "" {
		return "ACK_ERROR: '//user' command requires a name."
	}
	userID := memory.SanitizeID(arg)
	if userID == "" {
		return fmt.Sprintf("ACK_ERROR: Invalid user name provided: '%s'.", arg)
	}
	t.Dossier = a.switchDossier(userID)
	return fmt.Sprintf("ACK: Active user switched to '%s'.", userID)
}

// cardLabels holds the wording used in card command replies.
var cardLabels = map[cards.Kind][2]string{
	cards.Persona: {"Persona", "Persona"},
	cards.Ability: {"Abilities", "Ability"},
	cards.Engine:  {"Engine", "Engine"},
}

func (a *Agent) cmdCard(t *Turn, k cards.Kind, arg string) string {
	set, missing := cardLabels[k][0], cardLabels[k][1]
	if arg == "" {
		return fmt.Sprintf("ACK_ERROR: '//%s' command requires an id.", k)
	}
	id := cards.NormalizeID(arg)
	if !a.cards.Has(k, id) {
		return fmt.Sprintf("ACK_ERROR: %s '%s' not found.", missing, id)
	}
	switch k {
	case cards.Persona:
		t.Dossier.PersonaID = id
	case cards.Ability:
		t.Dossier.AbilityID = id
	case cards.Engine:
		t.Dossier.EngineID = id
	}
	return fmt.Sprintf("ACK: %s set to '%s'.", set, id)
}

func (a *Agent) cmdLoadout(t *Turn, arg string) string {
	if arg == "" {
		return "ACK_ERROR: '//loadout' command requires an id."
	}
	id := cards.NormalizeID(arg)
	lo, ok := a.cfg.Loadouts[id]
	if !ok {
		return fmt.Sprintf("ACK_ERROR: Loadout '%s' not found.", id)
	}
	d := t.Dossier
	d.PersonaID = cards.NormalizeID(lo.Persona)
	d.AbilityID = cards.NormalizeID(lo.Ability)
	d.EngineID = cards.NormalizeID(lo.Engine)
	return fmt.Sprintf("ACK: Loadout '%s' applied.", id)
}

func (a *Agent) cmdMem(ctx context.Context, t *Turn, arg string) string {
	if arg == "" {
		return "ACK_ERROR: //mem requires text."
	}
	a.rememberInBackground(ctx, t.Dossier.UserID, arg, t.Request.Model)
	return "ACK: Manual memory storage initiated (using intelligent routing)."
}

func (a *Agent) cmdRecall(ctx context.Context, t *Turn, arg string) string {
	if arg == "" {
		return "ACK_ERROR: '//recall' requires a search query."
	}
	facts := a.memory.Recall(ctx, t.Dossier.UserID, arg)
	if len(facts) == 0 {
		return "I searched my memory for that, but found nothing relevant in our current context."
	}
	return "I recalled the following from memory:\n- " + strings.Join(facts, "\n- ")
}

func (a *Agent) cmdEnroll(ctx context.Context, t *Turn, arg string) string {
	userID := t.Dossier.UserID
	if arg != "" {
		userID = memory.SanitizeID(arg)
	}
	if userID == "" || (arg == "" && userID == a.cfg.InitialUser) {
		return "ACK_ERROR: //enroll requires a user name."
	}
	if userID != t.Dossier.UserID {
		return fmt.Sprintf("ACK_ERROR: You must be switched to the user to enroll them. Use `//user %s` first.", arg)
	}
	if t.Dossier.Len() < memory.MinEnrollTurns {
		return "ACK_WARN: Please chat once more before enrolling so I have a good sample."
	}
	history := t.Dossier.History()
	a.pool.Submit(ctx, "enroll", func(ctx context.Context) error {
		return a.memory.Enroll(ctx, userID, history)
	})
	return fmt.Sprintf("ACK: Enrollment process initiated for user '%s'.", userID)
}
