package counsel

import (
	"math"
	"time"
)

// Role identifies who produced a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"content"`
}

// UserTurn is shorthand for a user-authored Turn.
func UserTurn(text string) Turn { return Turn{Role: RoleUser, Text: text} }

// AssistantTurn is shorthand for an assistant-authored Turn.
func AssistantTurn(text string) Turn { return Turn{Role: RoleAssistant, Text: text} }

// Legal context labels attached to corpus chunks and responses.
const (
	ContextConstitutional = "constitutional"
	ContextCommon         = "common"
	ContextSovereign      = "sovereign"
	ContextMixed          = "mixed"
)

// Usage reports tokens consumed by a completion call.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Response is the answer returned to the caller and stored in the response cache.
type Response struct {
	Answer          string    `json:"answer"`
	Citations       []string  `json:"citations"`
	LegalContext    string    `json:"legalContext"`
	Usage           Usage     `json:"usage"`
	RetrievedChunks int       `json:"retrievedChunks"`
	Cached          bool      `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Vector is a dense embedding.
type Vector []float32

// IsZero reports whether every component is zero. Cosine similarity is
// undefined for such vectors.
func (v Vector) IsZero() bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Cosine returns the cosine similarity of a and b.
//
// Vectors of different length, empty vectors and zero vectors yield 0.
func Cosine(a, b Vector) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// FromFloat64 converts a float64 embedding, as returned by some providers.
func FromFloat64(in []float64) Vector {
	out := make(Vector, len(in))
	for i, x := range in {
		out[i] = float32(x)
	}
	return out
}
