package engine

import (
	"sort"

	"github.com/lokutor-ai/promptdj/pkg/session"
)

// PromptMixer holds the latest prompt set and the texts the backend has
// refused. It is not safe for concurrent use; the engine guards it.
type PromptMixer struct {
	prompts  PromptSet
	filtered map[string]struct{}
}

func NewPromptMixer() *PromptMixer {
	return &PromptMixer{
		prompts:  PromptSet{},
		filtered: make(map[string]struct{}),
	}
}

// Set replaces the prompt set wholesale.
func (m *PromptMixer) Set(set PromptSet) {
	m.prompts = set.Clone()
}

// Prompts returns a copy of the current set.
func (m *PromptMixer) Prompts() PromptSet {
	return m.prompts.Clone()
}

// Active returns the current set's active prompts.
func (m *PromptMixer) Active() []Prompt {
	return m.ActiveOf(m.prompts)
}

// ActiveOf returns the prompts of set with nonzero weight whose text has
// not been filtered, ordered by id.
func (m *PromptMixer) ActiveOf(set PromptSet) []Prompt {
	active := make([]Prompt, 0, len(set))
	for _, p := range set {
		if p.Weight == 0 || m.IsFiltered(p.Text) {
			continue
		}
		active = append(active, p)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active
}

// Weighted projects set onto the wire form, without rescaling.
func (m *PromptMixer) Weighted(set PromptSet) []session.WeightedPrompt {
	active := m.ActiveOf(set)
	out := make([]session.WeightedPrompt, len(active))
	for i, p := range active {
		out[i] = session.WeightedPrompt{Text: p.Text, Weight: p.Weight}
	}
	return out
}

// Filter records text as refused. It reports whether text was new.
func (m *PromptMixer) Filter(text string) bool {
	if _, ok := m.filtered[text]; ok {
		return false
	}
	m.filtered[text] = struct{}{}
	return true
}

func (m *PromptMixer) IsFiltered(text string) bool {
	_, ok := m.filtered[text]
	return ok
}

// Filtered returns the refused texts in sorted order.
func (m *PromptMixer) Filtered() []string {
	out := make([]string, 0, len(m.filtered))
	for text := range m.filtered {
		out = append(out, text)
	}
	sort.Strings(out)
	return out
}

// ResetFilters forgets every refused text. Called when a new session is
// established.
func (m *PromptMixer) ResetFilters() {
	m.filtered = make(map[string]struct{})
}
