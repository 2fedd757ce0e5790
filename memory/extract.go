package memory

import (
	"fmt"
	"strings"
)

// Generation settings for the three extraction calls.
const (
	rewriteTemperature  = 0.2
	rewriteMaxTokens    = 128
	routeTemperature    = 0.0
	routeMaxTokens      = 32
	subjectsTemperature = 0.0
	subjectsMaxTokens   = 48
)

// RewritePrompt asks the model to turn a raw utterance into a standalone
// fact with pronouns resolved from the speaker's point of view.
func RewritePrompt(speakerID, statement string) string {
	return fmt.Sprintf("Rewrite the statement from '%s' into a concise, self-contained, objective fact, resolving pronouns.\nStatement: %q\nFactual Memory:", speakerID, statement)
}

// RoutePrompt asks the model for the primary subject of a fact.
func RoutePrompt(fact string) string {
	return fmt.Sprintf(`Analyze the following fact and determine the primary subject. The primary subject is the main person or topic the fact is about.
Think step-by-step:
1. Identify all people, places, or distinct topics mentioned.
2. Determine which one is the central focus of the statement.
3. Respond with ONLY the subject's name, and nothing else.

Fact: %q

Subject:`, fact)
}

// SubjectsPrompt asks the model which people or topics a query is about.
func SubjectsPrompt(query string) string {
	return fmt.Sprintf(`Analyze the user's query and list the names of all people or specific topics mentioned.
These are the subjects of the query.
Respond with a comma-separated list of names/topics. If the user is asking about themself, respond with "self".

Query: %q

Subjects:`, query)
}

// ShouldExtract reports whether a user message is long enough to be worth
// turning into a memory: more than three whitespace-separated words.
func ShouldExtract(text string) bool {
	return len(strings.Fields(text)) > 3
}

// ParseFact cleans the model's rewrite response. It returns "" when nothing
// usable came back.
func ParseFact(response string) string {
	s := stripFences(response)
	s = strings.TrimSpace(strings.TrimPrefix(s, "Factual Memory:"))
	return trimQuotes(s)
}

// ParseSubject sanitizes the first line of the model's routing response.
func ParseSubject(response string) string {
	s := stripFences(response)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "Subject:"))
	return SanitizeID(trimQuotes(strings.TrimRight(s, ".")))
}

// ParseSubjects splits the model's comma-separated subject list, sanitizes
// each entry and drops empties and duplicates, preserving order.
func ParseSubjects(response string) []string {
	s := stripFences(response)
	s = strings.TrimSpace(strings.TrimPrefix(s, "Subjects:"))
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		id := SanitizeID(trimQuotes(strings.TrimSpace(part)))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```text")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') || (first == '`' && last == '`') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return s
}
