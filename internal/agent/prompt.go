package agent

import (
	_ "embed"
	"strings"
	"text/template"
	"time"

	"github.com/szaher/minime/internal/llm"
	"github.com/szaher/minime/internal/memory"
)

//go:embed persona.md
var personaTemplate string

var persona = template.Must(template.New("persona").Parse(personaTemplate))

// DefaultPersona renders the built-in persona prompt for name.
func DefaultPersona(name string) string {
	var b strings.Builder
	if err := persona.Execute(&b, struct{ Name string }{Name: name}); err != nil {
		// The template is static, so this only fails on a broken build.
		panic(err)
	}
	return b.String()
}

// SystemPrompt assembles the date line, the running summary and the persona.
func SystemPrompt(now time.Time, summary, personaPrompt string) string {
	var b strings.Builder
	b.WriteString("Today is: ")
	b.WriteString(now.Format("Monday, 2 January 2006"))
	b.WriteString("\n\n")
	if s := strings.TrimSpace(summary); s != "" {
		b.WriteString("[Past Convo Summary]\n")
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	b.WriteString(personaPrompt)
	return b.String()
}

// BuildMessages turns the window and the new user message into the request
// history. Blank entries are skipped, and leading assistant entries are
// dropped because providers require the history to open with a user turn.
func BuildMessages(snap memory.Snapshot, userMsg string) []llm.Message {
	msgs := make([]llm.Message, 0, len(snap.Conversation)+1)
	for _, e := range snap.Conversation {
		if strings.TrimSpace(e.Message) == "" {
			continue
		}
		if len(msgs) == 0 && e.Role != llm.RoleUser {
			continue
		}
		msgs = append(msgs, llm.Message{Role: e.Role, Content: e.Message})
	}
	return append(msgs, llm.UserText(userMsg))
}
