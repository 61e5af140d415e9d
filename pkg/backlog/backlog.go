// Package backlog reads the task-list document that drives the agent's work.
// The engine only consumes counts from it; the agent owns its content.
package backlog

import (
	"bufio"
	"os"
	"regexp"
	"strings"
)

var (
	openItemRegex = regexp.MustCompile(`^\s*[-*]\s+\[ \]`)
	doneItemRegex = regexp.MustCompile(`^\s*[-*]\s+\[[xX]\]`)
)

// Stats summarizes the actionable state of a backlog document.
type Stats struct {
	Open int `json:"open"`
	Done int `json:"done"`
}

// Total returns the number of recognized checklist items.
func (s Stats) Total() int {
	return s.Open + s.Done
}

// HasActionableItems reports whether at least one unchecked item remains.
func (s Stats) HasActionableItems() bool {
	return s.Open > 0
}

// Scan counts markdown checklist items in content.
func Scan(content string) Stats {
	var stats Stats
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case openItemRegex.MatchString(line):
			stats.Open++
		case doneItemRegex.MatchString(line):
			stats.Done++
		}
	}
	return stats
}

// ScanFile counts checklist items in the backlog file at path.
func ScanFile(path string) (Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stats{}, err
	}
	return Scan(string(data)), nil
}
