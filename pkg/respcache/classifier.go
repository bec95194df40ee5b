package respcache

import (
	"time"

	"github.com/calque-ai/go-counsel/pkg/counsel"
	"github.com/calque-ai/go-counsel/pkg/helpers"
)

// Default TTLs by query class.
const (
	DefinitionTTL     = 7 * 24 * time.Hour
	ConstitutionalTTL = 30 * 24 * time.Hour
	GeneralTTL        = 24 * time.Hour
)

// Classifier picks the TTL for a response that is stored without an
// explicit one.
type Classifier interface {
	TTL(queryText string, resp *counsel.Response) time.Duration
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(queryText string, resp *counsel.Response) time.Duration

// TTL implements Classifier.
func (f ClassifierFunc) TTL(queryText string, resp *counsel.Response) time.Duration {
	return f(queryText, resp)
}

// LexicalClassifier matches lowercase phrases in the query. Definition
// phrases win over constitutional ones.
type LexicalClassifier struct {
	DefinitionPhrases     []string
	ConstitutionalPhrases []string
	DefinitionTTL         time.Duration
	ConstitutionalTTL     time.Duration
	GeneralTTL            time.Duration
}

// DefaultClassifier returns the English phrase lists used in production.
func DefaultClassifier() *LexicalClassifier {
	return &LexicalClassifier{
		DefinitionPhrases:     []string{"define", "definition", "what is", "what does", "meaning of"},
		ConstitutionalPhrases: []string{"constitution", "amendment", "bill of rights"},
		DefinitionTTL:         DefinitionTTL,
		ConstitutionalTTL:     ConstitutionalTTL,
		GeneralTTL:            GeneralTTL,
	}
}

// TTL implements Classifier.
func (c *LexicalClassifier) TTL(queryText string, resp *counsel.Response) time.Duration {
	if helpers.ContainsAnyFold(queryText, c.DefinitionPhrases...) {
		return c.DefinitionTTL
	}
	if (resp != nil && resp.LegalContext == counsel.ContextConstitutional) || helpers.ContainsAnyFold(queryText, c.ConstitutionalPhrases...) {
		return c.ConstitutionalTTL
	}
	return c.GeneralTTL
}
