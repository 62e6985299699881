package requirements

import "strings"

// Categories is the closed set every extracted requirement is filed under,
// in report order.
var Categories = []string{
	"legal",
	"technical",
	"qualification",
	"sla",
	"delivery",
	"financial",
	"documentation",
}

// Requirement is one atomic, category-tagged obligation from the
// requirement documents.
type Requirement struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

// Set holds requirements grouped by category, deduplicated, in the order
// they were first seen.
type Set struct {
	byCategory map[string][]string
}

func NewSet() *Set {
	return &Set{byCategory: make(map[string][]string)}
}

// Add files a requirement under a category, ignoring blanks, unknown
// categories and duplicates.
func (s *Set) Add(category, text string) {
	text = strings.TrimSpace(text)
	if text == "" || !validCategory(category) {
		return
	}
	for _, existing := range s.byCategory[category] {
		if existing == text {
			return
		}
	}
	s.byCategory[category] = append(s.byCategory[category], text)
}

// Merge folds one chunk's extraction result into the set.
func (s *Set) Merge(result map[string][]string) {
	for _, category := range Categories {
		for _, text := range result[category] {
			s.Add(category, text)
		}
	}
}

// Flatten returns all requirements in category order, then first-seen order
// within a category.
func (s *Set) Flatten() []Requirement {
	var out []Requirement
	for _, category := range Categories {
		for _, text := range s.byCategory[category] {
			out = append(out, Requirement{Text: text, Category: category})
		}
	}
	return out
}

// ByCategory exposes the grouped view for serialization.
func (s *Set) ByCategory() map[string][]string {
	out := make(map[string][]string, len(Categories))
	for _, category := range Categories {
		items := make([]string, len(s.byCategory[category]))
		copy(items, s.byCategory[category])
		out[category] = items
	}
	return out
}

func (s *Set) Len() int {
	n := 0
	for _, items := range s.byCategory {
		n += len(items)
	}
	return n
}

func (s *Set) Empty() bool {
	return s.Len() == 0
}

func validCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}
