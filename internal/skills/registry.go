package skills

import (
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Registry is the lookup table of known skills, keyed by name and by
// slash command.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Skill
	bySlash map[string]string // slash command -> skill name
	order   []string
}

// NewRegistry seeds a registry with the default skills plus any extras.
// An extra with a default's name replaces it.
func NewRegistry(extra ...Skill) *Registry {
	r := &Registry{
		byName:  make(map[string]Skill),
		bySlash: make(map[string]string),
	}
	for _, s := range Defaults() {
		r.Register(s)
	}
	for _, s := range extra {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a skill.
func (r *Registry) Register(s Skill) {
	if s.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byName[s.Name]; ok {
		delete(r.bySlash, strings.ToLower(prev.SlashCommand))
	} else {
		r.order = append(r.order, s.Name)
	}
	r.byName[s.Name] = s
	if s.SlashCommand != "" {
		r.bySlash[strings.ToLower(s.SlashCommand)] = s.Name
	}
}

// Lookup returns the skill registered under name.
func (r *Registry) Lookup(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// All returns every registered skill in registration order.
func (r *Registry) All() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// ParseSlashPrefix consumes leading /command tokens that name
// registered skills and returns the forced skill names plus the
// cleaned query. Parsing stops at the first token that is not a
// recognized slash command, so "/terminal check /etc" forces the
// terminal skill and keeps "check /etc" intact.
func (r *Registry) ParseSlashPrefix(query string) ([]string, string) {
	rest := strings.TrimSpace(query)
	var forced []string
	seen := make(map[string]bool)

	for strings.HasPrefix(rest, "/") {
		token := rest
		if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
			token = rest[:i]
		}

		r.mu.RLock()
		name, ok := r.bySlash[strings.ToLower(strings.TrimPrefix(token, "/"))]
		r.mu.RUnlock()
		if !ok {
			break
		}

		if !seen[name] {
			seen[name] = true
			forced = append(forced, name)
		}
		rest = strings.TrimLeftFunc(rest[len(token):], unicode.IsSpace)
	}
	return forced, rest
}

// ForTurn returns the ordered skill set for one turn: every forced
// skill, then at most one auto-detected skill — the one whose server
// owns the plurality of the selected tools. owner maps a tool name to
// its server; ties break lexicographically so turns are deterministic.
func (r *Registry) ForTurn(forced []string, selected []string, owner func(string) string) []Skill {
	out := make([]Skill, 0, len(forced)+1)
	included := make(map[string]bool)
	for _, name := range forced {
		if included[name] {
			continue
		}
		if skill, ok := r.Lookup(name); ok {
			included[name] = true
			out = append(out, skill)
		}
	}

	if owner == nil || len(selected) == 0 {
		return out
	}
	counts := make(map[string]int)
	for _, tool := range selected {
		if server := owner(tool); server != "" {
			counts[server]++
		}
	}
	servers := make([]string, 0, len(counts))
	for server := range counts {
		servers = append(servers, server)
	}
	sort.Strings(servers)

	dominant, best := "", 0
	for _, server := range servers {
		if counts[server] > best {
			dominant, best = server, counts[server]
		}
	}
	if dominant != "" && !included[dominant] {
		if skill, ok := r.Lookup(dominant); ok {
			out = append(out, skill)
		}
	}
	return out
}
