// Package ui provides the Bubble Tea TUI for LinkStreak.
package ui

import "github.com/abelbrown/linkstreak/internal/search"

// ResultsLoaded is sent when a search finishes.
type ResultsLoaded struct {
	Seq int // search sequence number the result answers
	Set *search.ResultSet
	Err error
}

// Blocked is sent after a page or site has been added to a block list.
// Set is the previous result set with the blocked entries removed.
type Blocked struct {
	Target string
	Set    *search.ResultSet
	Err    error
}
