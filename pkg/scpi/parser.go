// Package scpi implements the instrument's SCPI protocol layer: the
// command grammar, short/long keyword matching, and dispatch against live
// instrument state.
package scpi

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// SyntaxErrorKind classifies why a line failed to parse.
type SyntaxErrorKind int

const (
	UnknownKeyword SyntaxErrorKind = iota
	InvalidSuffix
	MalformedArgument
)

func (k SyntaxErrorKind) String() string {
	switch k {
	case UnknownKeyword:
		return "unknown keyword"
	case InvalidSuffix:
		return "invalid suffix"
	case MalformedArgument:
		return "malformed argument"
	default:
		return "syntax error"
	}
}

// SyntaxError is a parse failure at the first unresolvable segment. The
// parser does not attempt partial recovery.
type SyntaxError struct {
	Kind    SyntaxErrorKind
	Segment string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at %q", e.Kind, e.Segment)
}

// Segment is one resolved keyword of a command path, with its optional
// numeric suffix (0 = none).
type Segment struct {
	Keyword string // canonical long form
	Suffix  int
}

// Command is a parsed SCPI command.
type Command struct {
	Path     string // canonical colon-joined path, e.g. "MEASure:POWer:UNIT"
	Segments []Segment
	Query    bool
	Args     []string
}

// Channel returns the channel selector: the last numeric suffix on the
// path, or def when no segment carries one.
func (c *Command) Channel(def int) int {
	for i := len(c.Segments) - 1; i >= 0; i-- {
		if c.Segments[i].Suffix != 0 {
			return c.Segments[i].Suffix
		}
	}
	return def
}

// node is one keyword of the grammar tree. The canonical spelling encodes
// the short form as its leading uppercase run (standard SCPI convention).
type node struct {
	name     string
	children []*node
}

func kw(name string, children ...*node) *node {
	return &node{name: name, children: children}
}

// grammar is the instrument's full keyword tree.
var grammar = []*node{
	kw("MEASure",
		kw("POWer",
			kw("UNIT"),
			kw("AVERage"),
		),
		kw("VOLTage"),
	),
	kw("SENSe",
		kw("FREQuency",
			kw("CATalog"),
		),
		kw("ATTenuation"),
	),
	kw("CALibrate",
		kw("POWer",
			kw("OFFSet"),
			kw("SLOPe"),
			kw("SAVE"),
			kw("RESTore"),
		),
		kw("SENSor",
			kw("TYPE"),
			kw("SERial"),
		),
	),
	kw("SYSTem",
		kw("ERRor"),
		kw("VERSion"),
		kw("NET",
			kw("IP"),
			kw("MAC"),
		),
	),
}

// commonCommands are the IEEE 488.2 common commands, matched literally.
var commonCommands = map[string]bool{
	"*IDN": true,
	"*RST": true,
	"*OPC": true,
	"*CLS": true,
}

// shortLen returns the length of a canonical keyword's short form (its
// leading uppercase run).
func shortLen(canonical string) int {
	n := 0
	for _, r := range canonical {
		if !unicode.IsUpper(r) {
			break
		}
		n++
	}
	return n
}

// matchKeyword applies the SCPI short/long rule: the token matches when it
// is at least as long as the short form and is a case-insensitive prefix
// of the canonical spelling.
func matchKeyword(token, canonical string) bool {
	if len(token) < shortLen(canonical) || len(token) > len(canonical) {
		return false
	}
	return strings.EqualFold(token, canonical[:len(token)])
}

// Parse turns one command line into a structured command, resolving every
// keyword against the grammar tree.
func Parse(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, &SyntaxError{Kind: UnknownKeyword, Segment: ""}
	}

	head := line
	var argPart string
	if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		head, argPart = line[:i], strings.TrimSpace(line[i+1:])
	}

	query := strings.HasSuffix(head, "?")
	if query {
		head = head[:len(head)-1]
	}

	args, err := splitArgs(argPart)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(head, "*") {
		name := "*" + strings.ToUpper(head[1:])
		if !commonCommands[name] {
			return nil, &SyntaxError{Kind: UnknownKeyword, Segment: head}
		}
		return &Command{
			Path:     name,
			Segments: []Segment{{Keyword: name}},
			Query:    query,
			Args:     args,
		}, nil
	}

	cmd := &Command{Query: query, Args: args}
	level := grammar
	var canonical []string

	for _, raw := range strings.Split(head, ":") {
		word, suffix, err := splitSuffix(raw)
		if err != nil {
			return nil, err
		}

		var match *node
		for _, n := range level {
			if matchKeyword(word, n.name) {
				match = n
				break
			}
		}
		if match == nil {
			return nil, &SyntaxError{Kind: UnknownKeyword, Segment: raw}
		}

		cmd.Segments = append(cmd.Segments, Segment{Keyword: match.name, Suffix: suffix})
		canonical = append(canonical, match.name)
		level = match.children
	}

	cmd.Path = strings.Join(canonical, ":")
	return cmd, nil
}

// splitSuffix separates a keyword from its trailing numeric suffix.
func splitSuffix(raw string) (word string, suffix int, err error) {
	i := len(raw)
	for i > 0 && raw[i-1] >= '0' && raw[i-1] <= '9' {
		i--
	}
	word = raw[:i]
	if word == "" {
		return "", 0, &SyntaxError{Kind: UnknownKeyword, Segment: raw}
	}
	if i == len(raw) {
		return word, 0, nil
	}
	suffix, convErr := strconv.Atoi(raw[i:])
	if convErr != nil || suffix == 0 {
		return "", 0, &SyntaxError{Kind: InvalidSuffix, Segment: raw}
	}
	return word, suffix, nil
}

// splitArgs splits the comma-separated argument list into untyped tokens.
func splitArgs(argPart string) ([]string, error) {
	if argPart == "" {
		return nil, nil
	}
	parts := strings.Split(argPart, ",")
	args := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, &SyntaxError{Kind: MalformedArgument, Segment: argPart}
		}
		args = append(args, p)
	}
	return args, nil
}
