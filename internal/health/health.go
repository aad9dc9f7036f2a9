// Package health rates how complete a page's metadata is.
//
// The score is a 0-100 integer built from four bands: title (20), description
// (30), headings (20) and overall density (30). Each band contributes one note
// so the UI can explain the number.
package health

import "unicode/utf16"

// NoteType classifies a health note.
type NoteType string

const (
	Pass NoteType = "pass"
	Warn NoteType = "warn"
	Fail NoteType = "fail"
)

// Band points. They sum to 100.
const (
	titleStrongPoints = 20
	titleShortPoints  = 10
	descRichPoints    = 30
	descBriefPoints   = 15
	headingsPoints    = 20
	densityPoints     = 30
)

// Band thresholds, in UTF-16 code units (see TextLen).
const (
	titleStrongLen = 10 // strictly greater
	descRichLen    = 50 // strictly greater
	// DensityThreshold is the combined title+description+headings length at
	// which metadata counts as dense. Shared with the penalty engine.
	DensityThreshold = 60
)

// Note is one line of explanation attached to a score.
type Note struct {
	Type NoteType `json:"type"`
	Text string   `json:"text"`
}

// Score is the result of Calculate.
type Score struct {
	Score int    `json:"score"`
	Notes []Note `json:"notes"`
}

// Meta is the metadata being rated.
type Meta struct {
	Title       string
	Description string
	Headings    string
	H1          string // legacy fallback when Headings is empty
}

// HeadingText returns Headings, or H1 when Headings is empty.
func (m Meta) HeadingText() string {
	if m.Headings != "" {
		return m.Headings
	}
	return m.H1
}

// TextLen counts s in UTF-16 code units, the way the browser extension
// measures string length. Characters outside the BMP count twice.
func TextLen(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// Calculate scores meta. A nil meta fails soft with a zero score.
func Calculate(meta *Meta) Score {
	if meta == nil {
		return Score{Score: 0, Notes: []Note{{Type: Fail, Text: "No metadata found"}}}
	}

	score := 0
	notes := make([]Note, 0, 4)

	titleLen := TextLen(meta.Title)
	switch {
	case titleLen > titleStrongLen:
		score += titleStrongPoints
		notes = append(notes, Note{Pass, "Title is strong"})
	case titleLen > 0:
		score += titleShortPoints
		notes = append(notes, Note{Warn, "Title is short"})
	default:
		notes = append(notes, Note{Fail, "Title is missing"})
	}

	descLen := TextLen(meta.Description)
	switch {
	case descLen > descRichLen:
		score += descRichPoints
		notes = append(notes, Note{Pass, "Description is rich"})
	case descLen > 0:
		score += descBriefPoints
		notes = append(notes, Note{Warn, "Description is brief"})
	default:
		notes = append(notes, Note{Fail, "Description is missing"})
	}

	headings := meta.HeadingText()
	if headings != "" {
		score += headingsPoints
		notes = append(notes, Note{Pass, "Headings detected"})
	} else {
		notes = append(notes, Note{Warn, "No headings (H1-H3) found"})
	}

	if titleLen+descLen+TextLen(headings) >= DensityThreshold {
		score += densityPoints
		notes = append(notes, Note{Pass, "Metadata has sufficient density"})
	} else {
		notes = append(notes, Note{Warn, "Metadata is sparse, < 60 chars"})
	}

	return Score{Score: score, Notes: notes}
}
