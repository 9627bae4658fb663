package inbound

import (
	"strings"
)

// AllowList controls which senders may reach subscribers. An empty or nil
// AllowList allows everyone: the provider account is already private, so
// the list only narrows it further.
type AllowList struct {
	numbers map[string]struct{}
}

// NewAllowList creates an AllowList with O(1) lookups. Numbers are
// normalized at construction time.
func NewAllowList(numbers []string) *AllowList {
	a := &AllowList{numbers: make(map[string]struct{}, len(numbers))}
	for _, n := range numbers {
		if key := normalizeNumber(n); key != "" {
			a.numbers[key] = struct{}{}
		}
	}
	return a
}

// IsAllowed reports whether addr may be delivered.
func (a *AllowList) IsAllowed(addr string) bool {
	if a == nil || len(a.numbers) == 0 {
		return true
	}
	_, ok := a.numbers[normalizeNumber(addr)]
	return ok
}

// Len returns the number of entries.
func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.numbers)
}

// normalizeNumber strips formatting from a phone number or lowercases an
// email handle, so "+1 (555) 010-0000" and "+15550100000" compare equal.
func normalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "@") {
		return strings.ToLower(s)
	}
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
