package highlight

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"pastry/pkg/domain"
)

// LanguageNone is the explicit no-highlighting sentinel. It is a stored value
// distinct from "unset": a paste created with it keeps meaning "no
// highlighting" even if the deployment default changes later.
const LanguageNone = "none"

// builtinAliases maps accepted spellings to canonical tokens. Display names
// can change without touching stored pastes because only canonical tokens are
// persisted.
var builtinAliases = map[string]string{
	"bash":       "bash",
	"sh":         "bash",
	"shell":      "bash",
	"zsh":        "bash",
	"c":          "c",
	"c++":        "cpp",
	"cpp":        "cpp",
	"csharp":     "csharp",
	"c#":         "csharp",
	"css":        "css",
	"dockerfile": "dockerfile",
	"docker":     "dockerfile",
	"go":         "go",
	"golang":     "go",
	"html":       "html",
	"java":       "java",
	"javascript": "javascript",
	"js":         "javascript",
	"json":       "json",
	"kotlin":     "kotlin",
	"markdown":   "markdown",
	"md":         "markdown",
	"php":        "php",
	"python":     "python",
	"py":         "python",
	"python3":    "python",
	"ruby":       "ruby",
	"rb":         "ruby",
	"rust":       "rust",
	"rs":         "rust",
	"sql":        "sql",
	"swift":      "swift",
	"text":       "text",
	"plain":      "text",
	"plaintext":  "text",
	"toml":       "toml",
	"typescript": "typescript",
	"ts":         "typescript",
	"xml":        "xml",
	"yaml":       "yaml",
	"yml":        "yaml",
}

// RenderFunc is the external highlighter boundary. The resolver only
// validates and normalizes tags; rendering for display happens outside the
// core with the canonical token as input.
type RenderFunc func(content, language string) (string, error)

// PlainRender is the no-op renderer used when no highlighter is wired in.
func PlainRender(content, _ string) (string, error) {
	return content, nil
}

type Resolver struct {
	supported  map[string]string
	defaultTok string
}

// NewResolver builds a resolver restricted to the given canonical tokens.
// An empty restriction accepts every built-in language. defaultLanguage is
// the token applied when a request carries no language choice; it may be
// LanguageNone.
func NewResolver(restrict []string, defaultLanguage string) (*Resolver, error) {
	supported := make(map[string]string, len(builtinAliases))
	if len(restrict) == 0 {
		for alias, canon := range builtinAliases {
			supported[alias] = canon
		}
	} else {
		keep := make(map[string]bool, len(restrict))
		for _, tok := range restrict {
			tag := normalizeTag(tok)
			// The no-highlighting sentinel is always supported; listing it
			// in a restriction is redundant but not an error.
			if tag == LanguageNone {
				continue
			}
			canon, ok := builtinAliases[tag]
			if !ok {
				return nil, domain.ErrInvalidLanguage
			}
			keep[canon] = true
		}
		for alias, canon := range builtinAliases {
			if keep[canon] {
				supported[alias] = canon
			}
		}
	}
	if normalizeTag(defaultLanguage) == "" {
		return nil, domain.ErrInvalidLanguage
	}
	r := &Resolver{supported: supported}
	def, err := r.Resolve(&defaultLanguage)
	if err != nil {
		return nil, err
	}
	r.defaultTok = def
	return r, nil
}

// Resolve maps a requested language to its canonical stored token.
// nil means "use the deployment default"; the LanguageNone sentinel is
// returned as-is so the explicit opt-out survives default changes.
func (r *Resolver) Resolve(requested *string) (string, error) {
	if requested == nil {
		return r.defaultTok, nil
	}
	tag := normalizeTag(*requested)
	if tag == "" {
		return r.defaultTok, nil
	}
	if tag == LanguageNone {
		return LanguageNone, nil
	}
	canon, ok := r.supported[tag]
	if !ok {
		return "", domain.ErrInvalidLanguage
	}
	return canon, nil
}

// Languages returns the sorted canonical tokens this deployment accepts,
// always including the no-highlighting sentinel.
func (r *Resolver) Languages() []string {
	seen := map[string]bool{LanguageNone: true}
	out := []string{LanguageNone}
	for _, canon := range r.supported {
		if !seen[canon] {
			seen[canon] = true
			out = append(out, canon)
		}
	}
	sort.Strings(out)
	return out
}

func normalizeTag(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}
