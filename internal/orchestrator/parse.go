package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencedBlock   = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\n?(.*?)```")
	lineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

type teamSelection struct {
	Agents *[]string `json:"agents"`
}

// ParseTeam extracts the agent ids from a planner's answer.
//
// Fenced code blocks are tried first, the last one that holds an "agents"
// list winning. Without one, every brace-delimited fragment mentioning
// "agents" is tried from last to first, since planners tend to repeat earlier
// context before their decision. Line comments and trailing commas are
// tolerated. ErrNoTeam is returned when nothing parses; an explicitly empty
// list parses to an empty, non-nil slice.
func ParseTeam(text string) ([]string, error) {
	var fenced []string
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		fenced = append(fenced, m[1])
	}
	for i := len(fenced) - 1; i >= 0; i-- {
		for _, frag := range candidates(fenced[i]) {
			if ids, ok := decodeTeam(frag); ok {
				return ids, nil
			}
		}
	}

	for _, frag := range candidates(text) {
		if ids, ok := decodeTeam(frag); ok {
			return ids, nil
		}
	}
	for _, frag := range anchoredCandidates(text) {
		if ids, ok := decodeTeam(frag); ok {
			return ids, nil
		}
	}
	return nil, ErrNoTeam
}

// candidates returns brace-balanced fragments containing "agents", last first.
func candidates(text string) []string {
	var out []string
	for _, frag := range braceFragments(text) {
		if strings.Contains(frag, `"agents"`) {
			out = append(out, frag)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// braceFragments finds every balanced {...} substring, outermost and nested,
// ignoring braces inside JSON strings.
func braceFragments(text string) []string {
	var (
		out      []string
		stack    []int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			// quotes only start strings inside an object
			if len(stack) > 0 {
				inString = true
			}
		case '{':
			stack = append(stack, i)
		case '}':
			if len(stack) == 0 {
				continue
			}
			start := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			out = append(out, text[start:i+1])
		}
	}
	// ordered by closing offset
	return out
}

// anchoredCandidates rescans from every '{', last first, with fresh string
// state. A stray brace or quote in prose upsets the single pass in
// braceFragments; scanning from each opening brace on its own does not.
func anchoredCandidates(text string) []string {
	var out []string
	for i := strings.LastIndexByte(text, '{'); i >= 0; i = strings.LastIndexByte(text[:i], '{') {
		if frag, ok := fragmentAt(text, i); ok && strings.Contains(frag, `"agents"`) {
			out = append(out, frag)
		}
	}
	return out
}

// fragmentAt returns the balanced {...} that opens at text[start].
func fragmentAt(text string, start int) (string, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func decodeTeam(frag string) ([]string, bool) {
	var sel teamSelection
	if err := json.Unmarshal([]byte(frag), &sel); err != nil {
		cleaned := trailingComma.ReplaceAllString(lineComment.ReplaceAllString(frag, ""), "$1")
		if err := json.Unmarshal([]byte(cleaned), &sel); err != nil {
			return nil, false
		}
	}
	if sel.Agents == nil {
		return nil, false
	}
	ids := make([]string, 0, len(*sel.Agents))
	for _, id := range *sel.Agents {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, true
}
