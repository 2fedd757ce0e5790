package dossier

import "context"

// Purposes name the operation behind a model call. Observers attach them to
// spans and metrics.
const (
	PurposeTurn     = "turn"
	PurposeRewrite  = "rewrite"
	PurposeRoute    = "route"
	PurposeSubjects = "subjects"
	PurposeRemember = "remember"
	PurposeRecall   = "recall"
	PurposeEnroll   = "enroll"
	PurposeIdentify = "identify"
	PurposeProxy    = "proxy"
)

type purposeKey struct{}

// WithPurpose tags ctx with the operation making the next model call.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey{}, purpose)
}

// PurposeFrom returns the purpose set by WithPurpose, or "".
func PurposeFrom(ctx context.Context) string {
	p, _ := ctx.Value(purposeKey{}).(string)
	return p
}
