package translate

import "context"

// Translator converts text between languages. Implementations must be safe
// for concurrent use; one instance is shared by every listener pipeline.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}
