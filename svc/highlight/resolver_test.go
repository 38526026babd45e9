package highlight

import (
	"testing"

	"pastry/pkg/domain"
)

func strptr(s string) *string { return &s }

func TestResolveDefault(t *testing.T) {
	r, err := NewResolver(nil, "go")
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	tok, err := r.Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve(nil) failed: %v", err)
	}
	if tok != "go" {
		t.Errorf("default = %q, want go", tok)
	}
}

func TestResolveDefaultNone(t *testing.T) {
	r, err := NewResolver(nil, LanguageNone)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	tok, err := r.Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve(nil) failed: %v", err)
	}
	if tok != LanguageNone {
		t.Errorf("default = %q, want %q", tok, LanguageNone)
	}
}

func TestResolveExplicitNoneDistinctFromDefault(t *testing.T) {
	// A deployment default of "go" must not absorb an explicit opt-out.
	r, err := NewResolver(nil, "go")
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	tok, err := r.Resolve(strptr("none"))
	if err != nil {
		t.Fatalf("Resolve(none) failed: %v", err)
	}
	if tok != LanguageNone {
		t.Errorf("explicit none = %q, want %q", tok, LanguageNone)
	}
}

func TestResolveAliases(t *testing.T) {
	r, err := NewResolver(nil, LanguageNone)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	cases := map[string]string{
		"Go":          "go",
		"golang":      "go",
		"PY":          "python",
		"python3":     "python",
		"js":          "javascript",
		"C++":         "cpp",
		"  yaml  ":    "yaml",
		"yml":         "yaml",
		"ShellScript": "",
	}
	for in, want := range cases {
		tok, err := r.Resolve(strptr(in))
		if want == "" {
			if err != domain.ErrInvalidLanguage {
				t.Errorf("Resolve(%q) err = %v, want ErrInvalidLanguage", in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Resolve(%q) failed: %v", in, err)
			continue
		}
		if tok != want {
			t.Errorf("Resolve(%q) = %q, want %q", in, tok, want)
		}
	}
}

func TestResolveUnknown(t *testing.T) {
	r, err := NewResolver(nil, LanguageNone)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	if _, err := r.Resolve(strptr("klingon")); err != domain.ErrInvalidLanguage {
		t.Fatalf("err = %v, want ErrInvalidLanguage", err)
	}
}

func TestRestrictedSet(t *testing.T) {
	r, err := NewResolver([]string{"go", "python"}, LanguageNone)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	if _, err := r.Resolve(strptr("golang")); err != nil {
		t.Errorf("alias of restricted language rejected: %v", err)
	}
	if _, err := r.Resolve(strptr("rust")); err != domain.ErrInvalidLanguage {
		t.Errorf("out-of-set language accepted, err = %v", err)
	}
	langs := r.Languages()
	want := []string{"go", "none", "python"}
	if len(langs) != len(want) {
		t.Fatalf("Languages() = %v, want %v", langs, want)
	}
	for i := range want {
		if langs[i] != want[i] {
			t.Fatalf("Languages() = %v, want %v", langs, want)
		}
	}
}

func TestRestrictedSetAllowsNoneToken(t *testing.T) {
	// The sentinel is always supported, so listing it in a restriction must
	// not be rejected the way an unknown language is.
	r, err := NewResolver([]string{"none", "go"}, LanguageNone)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	if _, err := r.Resolve(strptr("go")); err != nil {
		t.Errorf("restricted language rejected: %v", err)
	}
	if tok, err := r.Resolve(strptr("none")); err != nil || tok != LanguageNone {
		t.Errorf("Resolve(none) = %q, %v", tok, err)
	}
	langs := r.Languages()
	want := []string{"go", "none"}
	if len(langs) != len(want) {
		t.Fatalf("Languages() = %v, want %v", langs, want)
	}
	for i := range want {
		if langs[i] != want[i] {
			t.Fatalf("Languages() = %v, want %v", langs, want)
		}
	}
}

func TestRestrictedSetUnknownToken(t *testing.T) {
	if _, err := NewResolver([]string{"klingon"}, LanguageNone); err == nil {
		t.Fatal("expected error for unknown restriction token")
	}
}

func TestPlainRender(t *testing.T) {
	out, err := PlainRender("fmt.Println(1)", "go")
	if err != nil {
		t.Fatalf("PlainRender failed: %v", err)
	}
	if out != "fmt.Println(1)" {
		t.Errorf("PlainRender = %q, want content unchanged", out)
	}
}

func TestResolveEmptyStringUsesDefault(t *testing.T) {
	r, err := NewResolver(nil, "python")
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	tok, err := r.Resolve(strptr("  "))
	if err != nil {
		t.Fatalf("Resolve blank failed: %v", err)
	}
	if tok != "python" {
		t.Errorf("blank language = %q, want python", tok)
	}
}
