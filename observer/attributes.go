package observer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nevindra/dossier"
)

// Attribute keys for spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")

	AttrEmbedTextCount  = attribute.Key("llm.embed.text_count")
	AttrEmbedDimensions = attribute.Key("llm.embed.dimensions")

	AttrTurnModel  = attribute.Key("turn.model")
	AttrTurnStatus = attribute.Key("turn.status")

	AttrStage = attribute.Key("agent.stage")

	// AttrPurpose names the operation behind a model call (recall, enroll, ...).
	AttrPurpose = attribute.Key("dossier.purpose")
)

// purposeOf returns the call purpose carried by ctx, or "unspecified".
func purposeOf(ctx context.Context) string {
	if p := dossier.PurposeFrom(ctx); p != "" {
		return p
	}
	return "unspecified"
}
