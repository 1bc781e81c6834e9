package providers

import (
	"fmt"
	"strings"
)

// ProviderRef names one configured provider: "openai" or "openai:work",
// where the alias after the colon selects a key or host from the environment.
type ProviderRef struct {
	Raw      string
	Name     string
	KeyAlias string
}

var mockRef = ProviderRef{Raw: "mock", Name: "mock"}

func (r ProviderRef) String() string {
	if r.KeyAlias == "" {
		return r.Name
	}
	return r.Name + ":" + r.KeyAlias
}

func (r ProviderRef) IsMock() bool {
	return r.Name == "mock"
}

// matches reports whether s names r by its raw entry, canonical form or bare name.
func (r ProviderRef) matches(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s != "" && (s == strings.ToLower(r.Raw) || s == r.String() || s == r.Name)
}

// ParseProviderList parses a "|" or "," separated provider list. Names are
// case-insensitive; repeats of the same name and alias are dropped. An empty
// list means the mock provider.
func ParseProviderList(raw string) ([]ProviderRef, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == '|' || r == ',' })
	out := make([]ProviderRef, 0, len(fields))
	seen := map[string]struct{}{}
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		name, alias, _ := strings.Cut(f, ":")
		ref := ProviderRef{Raw: f, Name: strings.ToLower(strings.TrimSpace(name)), KeyAlias: strings.TrimSpace(alias)}
		switch ref.Name {
		case "mock", "openai", "groq", "ollama":
		default:
			return nil, fmt.Errorf("unsupported provider %q", f)
		}
		if _, dup := seen[ref.String()]; dup {
			continue
		}
		seen[ref.String()] = struct{}{}
		out = append(out, ref)
	}
	if len(out) == 0 {
		out = append(out, mockRef)
	}
	return out, nil
}
