// Package view holds the progressive-disclosure display policy. It is a pure
// policy over fully retained data: nothing here drops sections or rows, it
// only decides how many are visible before the user asks for the rest.
package view

import (
	"github.com/gloser-ai/console/internal/format"
	"github.com/gloser-ai/console/internal/store"
)

const (
	DefaultSectionLimit = 8
	DefaultRowLimit     = 5
)

// Policy carries the disclosure limits; zero values fall back to defaults.
type Policy struct {
	SectionLimit int
	RowLimit     int
}

func (p Policy) sectionLimit() int {
	if p.SectionLimit > 0 {
		return p.SectionLimit
	}
	return DefaultSectionLimit
}

func (p Policy) rowLimit() int {
	if p.RowLimit > 0 {
		return p.RowLimit
	}
	return DefaultRowLimit
}

// Sections returns the visible sections and how many remain hidden. With
// revealAll set, everything is visible.
func (p Policy) Sections(sections []format.Section, revealAll bool) (visible []format.Section, hidden int) {
	limit := p.sectionLimit()
	if revealAll || len(sections) <= limit {
		return sections, 0
	}
	return sections[:limit], len(sections) - limit
}

// Rows returns the visible table rows and how many remain hidden.
func (p Policy) Rows(rows []store.Row, revealAll bool) (visible []store.Row, hidden int) {
	limit := p.rowLimit()
	if revealAll || len(rows) <= limit {
		return rows, 0
	}
	return rows[:limit], len(rows) - limit
}
