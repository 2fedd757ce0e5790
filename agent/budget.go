package agent

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/nevindra/dossier"
)

// DefaultContextLimit is the context window the usage annotation is measured against.
const DefaultContextLimit = 128 * 1024

const (
	tokensPerMessage = 4
	tokenEncoding    = "cl100k_base"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// encoding loads the cl100k_base ranks from the embedded offline copy. It
// returns nil if they cannot be loaded.
func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		if e, err := tiktoken.GetEncoding(tokenEncoding); err == nil {
			enc = e
		}
	})
	return enc
}

// EstimateTokens counts the prompt size in cl100k_base tokens plus a fixed
// overhead per message. Without the encoding it falls back to one token per
// four characters.
func EstimateTokens(msgs []dossier.ChatMessage) int {
	return countTokens(encoding(), msgs)
}

func countTokens(e *tiktoken.Tiktoken, msgs []dossier.ChatMessage) int {
	n := 0
	for _, m := range msgs {
		n += tokensPerMessage
		if m.Content == "" {
			continue
		}
		if e != nil {
			n += len(e.Encode(m.Content, nil, nil))
		} else {
			n += (utf8.RuneCountInString(m.Content) + 3) / 4
		}
	}
	return n
}

// ContextAnnotation renders the usage line inserted into the prompt, e.g.
// "CONTEXT: 1,234 tokens (0.9% full)."
func ContextAnnotation(tokens, limit int) string {
	pct := 0.0
	if limit > 0 {
		pct = float64(tokens) / float64(limit) * 100
	}
	return fmt.Sprintf("CONTEXT: %s tokens (%.1f%% full).", humanize.Comma(int64(tokens)), pct)
}
