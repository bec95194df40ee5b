package retrieval

import (
	"strconv"
	"strings"
	"sync"

	"github.com/hbollon/go-edlib"
	"github.com/pkoukk/tiktoken-go"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/calque-ai/go-counsel/pkg/counsel"
)

// NoResultsText is the context used when a search returns nothing.
const NoResultsText = "No relevant legal information found."

var headings = map[string]string{
	DocTypeDefinition:     "LEGAL DEFINITIONS:",
	DocTypeConstitutional: "CONSTITUTIONAL PROVISIONS:",
	DocTypeFounding:       "FOUNDING PRINCIPLES:",
}

var priority = []string{DocTypeDefinition, DocTypeConstitutional, DocTypeFounding}

// Heading returns the label rendered above a bucket of the given type.
func Heading(docType string) string {
	if h, ok := headings[docType]; ok {
		return h
	}
	if docType == "" {
		docType = DocTypeOther
	}
	return strings.ToUpper(docType) + ":"
}

// TokenCounter counts prompt tokens.
type TokenCounter interface {
	Count(text string) int
}

// WordCounter estimates tokens from whitespace-separated words.
type WordCounter struct{}

// Count implements TokenCounter.
func (WordCounter) Count(text string) int {
	return int(float64(len(strings.Fields(text))) * 1.33)
}

type tiktokenCounter struct {
	tke *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.tke.Encode(text, nil, nil))
}

var (
	defaultCounterOnce sync.Once
	defaultCounter     TokenCounter
)

// NewTiktokenCounter returns a BPE counter for encoding (cl100k_base when
// empty). When the encoding cannot be loaded it falls back to WordCounter.
func NewTiktokenCounter(encoding string) TokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return WordCounter{}
	}
	return tiktokenCounter{tke: tke}
}

// DefaultTokenCounter returns a shared cl100k_base counter, loaded on first use.
func DefaultTokenCounter() TokenCounter {
	defaultCounterOnce.Do(func() {
		defaultCounter = NewTiktokenCounter("")
	})
	return defaultCounter
}

// AssemblerConfig controls context assembly.
type AssemblerConfig struct {
	// MixedShare is the share of results a second legal context tag needs
	// before the whole context is labelled mixed. Zero labels any
	// disagreement as mixed.
	MixedShare float64
	// DedupSimilarity drops a passage whose word-level Jaccard similarity
	// to an already rendered passage of the same bucket reaches it.
	// Zero disables deduplication.
	DedupSimilarity float64
	// MaxTokens caps the rendered passages. Zero means unlimited.
	MaxTokens int
	// Counter measures passages without a stored token count.
	Counter TokenCounter
}

// DefaultAssemblerConfig returns the production defaults.
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		MixedShare:      0.2,
		DedupSimilarity: 0.95,
	}
}

// Assembler renders search results into a context block.
type Assembler struct {
	config AssemblerConfig
}

// NewAssembler creates an Assembler.
func NewAssembler(config AssemblerConfig) *Assembler {
	if config.MaxTokens > 0 && config.Counter == nil {
		config.Counter = DefaultTokenCounter()
	}
	return &Assembler{config: config}
}

// Assemble renders results. It never fails: missing metadata is skipped.
func (a *Assembler) Assemble(results []SearchResult) *RetrievedContext {
	text, buckets := a.Render(results)
	return &RetrievedContext{
		Results:      results,
		Text:         text,
		Citations:    Citations(results),
		LegalContext: LegalContext(results, a.config.MixedShare),
		Buckets:      buckets,
	}
}

// Render groups results by document type and renders one numbered block
// per type: definitions, constitutional provisions and founding principles
// first, then other types in first-seen order.
func (a *Assembler) Render(results []SearchResult) (string, []string) {
	if len(results) == 0 {
		return NoResultsText, nil
	}

	byType := orderedmap.New[string, []SearchResult]()
	for _, r := range results {
		docType := r.Metadata.DocumentType
		if docType == "" {
			docType = DocTypeOther
		}
		group, _ := byType.Get(docType)
		byType.Set(docType, append(group, r))
	}

	order := make([]string, 0, byType.Len())
	for _, t := range priority {
		if _, ok := byType.Get(t); ok {
			order = append(order, t)
		}
	}
	for pair := byType.Oldest(); pair != nil; pair = pair.Next() {
		if _, fixed := headings[pair.Key]; !fixed {
			order = append(order, pair.Key)
		}
	}

	var (
		lines    []string
		rendered []string
		tokens   int
		keptAny  bool
		full     bool
	)
	for _, docType := range order {
		if full {
			break
		}
		group, _ := byType.Get(docType)
		var kept []string
		for _, r := range group {
			if a.duplicate(r.Text, kept) {
				continue
			}
			if a.config.MaxTokens > 0 {
				n := r.TokenCount
				if n <= 0 {
					n = a.config.Counter.Count(r.Text)
				}
				// the first passage is always kept so the context is never empty
				if tokens+n > a.config.MaxTokens && keptAny {
					full = true
					break
				}
				tokens += n
			}
			kept = append(kept, r.Text)
			keptAny = true
		}
		if len(kept) == 0 {
			continue
		}
		lines = append(lines, Heading(docType))
		for i, text := range kept {
			lines = append(lines, strconv.Itoa(i+1)+". "+text)
		}
		lines = append(lines, "")
		rendered = append(rendered, docType)
	}

	return strings.Join(lines, "\n"), rendered
}

func (a *Assembler) duplicate(text string, kept []string) bool {
	if a.config.DedupSimilarity <= 0 {
		return false
	}
	for _, k := range kept {
		if k == text || float64(edlib.JaccardSimilarity(k, text, 0)) >= a.config.DedupSimilarity {
			return true
		}
	}
	return false
}

// Citations extracts citation strings from result metadata, deduplicated
// in first-seen order.
//
// Per result: source and citation verbatim, Black's Law Dictionary when
// both term and edition are set, the amendment or article of the US
// Constitution, and the author.
func Citations(results []SearchResult) []string {
	set := orderedmap.New[string, struct{}]()
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			set.Set(s, struct{}{})
		}
	}

	for _, r := range results {
		m := r.Metadata
		add(m.Source)
		add(m.Citation)
		if m.Term != "" && m.Edition != "" {
			add("Black's Law Dictionary (" + m.Edition + ")")
		}
		if m.Amendment != "" {
			add("US Constitution, " + m.Amendment)
		}
		if m.Article != "" {
			add("US Constitution, Article " + m.Article)
		}
		add(m.Author)
	}

	out := make([]string, 0, set.Len())
	for pair := set.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// LegalContext picks the dominant legal context tag of results.
//
// It returns mixed when there are no tagged results, or when more than one
// tag reaches mixedShare of the tagged results. Ties go to the tag seen first.
func LegalContext(results []SearchResult, mixedShare float64) string {
	tally := orderedmap.New[string, int]()
	total := 0
	for _, r := range results {
		tag := strings.TrimSpace(r.Metadata.LegalContext)
		if tag == "" {
			continue
		}
		n, _ := tally.Get(tag)
		tally.Set(tag, n+1)
		total++
	}
	if total == 0 {
		return counsel.ContextMixed
	}

	var (
		dominant    string
		best        int
		significant int
	)
	for pair := tally.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value > best {
			dominant, best = pair.Key, pair.Value
		}
		if mixedShare <= 0 || float64(pair.Value)/float64(total) >= mixedShare {
			significant++
		}
	}
	if significant > 1 {
		return counsel.ContextMixed
	}
	return dominant
}
