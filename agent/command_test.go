package agent

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/nevindra/dossier"
)

func TestEveryCommandIsDispatched(t *testing.T) {
	defer goleak.VerifyNone(t)
	for c := Command(0); c < numCommands; c++ {
		t.Run(c.String(), func(t *testing.T) {
			if commandNames[c] == "" {
				t.Fatalf("command %d has no name", int(c))
			}
			got, ok := ParseCommand(strings.ToUpper(c.String()))
			if !ok || got != c {
				t.Fatalf("ParseCommand(%q) = %v, %v", c.String(), got, ok)
			}
			a := newTestAgent(&scriptedLLM{reply: "ok"}, &fakeMemory{})
			resp := handle(t, a, "//"+c.String()+" scott")
			a.Wait()
			if strings.Contains(resp, "Unknown command") || strings.HasPrefix(resp, "Fatal") {
				t.Errorf("//%s -> %q", c, resp)
			}
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	a := newTestAgent(&scriptedLLM{}, &fakeMemory{})
	if got, want := handle(t, a, "//Teleport home"), "ACK_ERROR: Unknown command 'teleport'."; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCommandReplies(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"user", "//user Scott Smith", "ACK: Active user switched to 'scott_smith'."},
		{"user uppercase name", "//USER Fred", "ACK: Active user switched to 'fred'."},
		{"user empty", "//user", "ACK_ERROR: '//user' command requires a name."},
		{"user invalid", "//user !!!", "ACK_ERROR: Invalid user name provided: '!!!'."},
		{"persona", "//persona pirate", "ACK: Persona set to 'PIRATE'."},
		{"persona missing", "//persona ninja", "ACK_ERROR: Persona 'NINJA' not found."},
		{"persona empty", "//persona", "ACK_ERROR: '//persona' command requires an id."},
		{"ability", "//ability coder", "ACK: Abilities set to 'CODER'."},
		{"ability missing", "//ability flight", "ACK_ERROR: Ability 'FLIGHT' not found."},
		{"engine", "//engine verbose", "ACK: Engine set to 'VERBOSE'."},
		{"engine missing", "//engine turbo", "ACK_ERROR: Engine 'TURBO' not found."},
		{"loadout", "//loadout captain", "ACK: Loadout 'CAPTAIN' applied."},
		{"loadout missing", "//loadout admiral", "ACK_ERROR: Loadout 'ADMIRAL' not found."},
		{"mem empty", "//mem", "ACK_ERROR: //mem requires text."},
		{"recall empty", "//recall  ", "ACK_ERROR: '//recall' requires a search query."},
		{"recall nothing", "//recall Sarah", "I searched my memory for that, but found nothing relevant in our current context."},
		{"only first line", "//user bob\nand more text", "ACK: Active user switched to 'bob'."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAgent(&scriptedLLM{}, &fakeMemory{})
			if got := handle(t, a, tt.text); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCardCommandsUpdateDossier(t *testing.T) {
	llm := &scriptedLLM{reply: "arr"}
	a := newTestAgent(llm, &fakeMemory{})
	handle(t, a, "//user scott")
	handle(t, a, "//loadout Captain")

	d := a.dossiers["scott"]
	got := [3]string{d.PersonaID, d.AbilityID, d.EngineID}
	if want := [3]string{"PIRATE", "CODER", "VERBOSE"}; got != want {
		t.Errorf("cards = %v, want %v", got, want)
	}
	handle(t, a, "hi")
	want := "You are a pirate.\n\n--- ABILITIES ---\nYou write Go.\n\n--- STYLE ---\nExplain everything."
	if sys := llm.requests()[0].Messages[0].Content; sys != want {
		t.Errorf("system = %q, want %q", sys, want)
	}

	// Other dossiers keep the defaults.
	handle(t, a, "//user fred")
	if d := a.dossiers["fred"]; d.PersonaID != "DEFAULT" {
		t.Errorf("fred persona = %q", d.PersonaID)
	}
}

func TestCommandsSkipTheModel(t *testing.T) {
	llm := &scriptedLLM{reply: "ok"}
	mem := &fakeMemory{}
	a := newTestAgent(llm, mem)
	handle(t, a, "//user scott")
	handle(t, a, "//persona pirate")
	if len(llm.requests()) != 0 {
		t.Error("commands must not call the model")
	}
	if len(a.dossiers["scott"].History()) != 0 {
		t.Error("commands must not enter working memory")
	}
}

func TestRecallCommand(t *testing.T) {
	mem := &fakeMemory{recall: []string{"Sarah likes hiking", "Sarah has a dog"}}
	a := newTestAgent(&scriptedLLM{}, mem)
	handle(t, a, "//user scott")

	want := "I recalled the following from memory:\n- Sarah likes hiking\n- Sarah has a dog"
	if got := handle(t, a, "//recall Sarah"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if diff := cmp.Diff([]string{"scott:Sarah"}, mem.queries); diff != "" {
		t.Errorf("queries (-want +got):\n%s", diff)
	}
}

func TestMemCommand(t *testing.T) {
	defer goleak.VerifyNone(t)
	mem := &fakeMemory{}
	a := newTestAgent(&scriptedLLM{}, mem)
	handle(t, a, "//user scott")

	if got := handle(t, a, "//mem Sarah likes hiking"); got != "ACK: Manual memory storage initiated (using intelligent routing)." {
		t.Errorf("got %q", got)
	}
	a.Wait()
	want := []remembered{{"scott", "Sarah likes hiking", "test-model"}}
	if diff := cmp.Diff(want, mem.rememberedCalls()); diff != "" {
		t.Errorf("remembered (-want +got):\n%s", diff)
	}
}

func TestEnrollCommand(t *testing.T) {
	defer goleak.VerifyNone(t)
	mem := &fakeMemory{}
	a := newTestAgent(&scriptedLLM{reply: "sure"}, mem)

	if got := handle(t, a, "//enroll"); got != "ACK_ERROR: //enroll requires a user name." {
		t.Errorf("anonymous = %q", got)
	}
	handle(t, a, "//user scott")
	if got := handle(t, a, "//enroll fred"); got != "ACK_ERROR: You must be switched to the user to enroll them. Use `//user fred` first." {
		t.Errorf("other user = %q", got)
	}
	handle(t, a, "hi")
	if got := handle(t, a, "//enroll"); got != "ACK_WARN: Please chat once more before enrolling so I have a good sample." {
		t.Errorf("short history = %q", got)
	}
	handle(t, a, "hello again")
	if got := handle(t, a, "//enroll Scott"); got != "ACK: Enrollment process initiated for user 'scott'." {
		t.Errorf("enroll = %q", got)
	}
	a.Wait()

	want := []enrolled{{"scott", []dossier.ChatMessage{
		dossier.UserMessage("hi"), dossier.AssistantMessage("sure"),
		dossier.UserMessage("hello again"), dossier.AssistantMessage("sure"),
	}}}
	mem.mu.Lock()
	defer mem.mu.Unlock()
	if diff := cmp.Diff(want, mem.enrolled); diff != "" {
		t.Errorf("enrolled (-want +got):\n%s", diff)
	}
}
