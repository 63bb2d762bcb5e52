// Package cmdtree defines the operational command tree shared by the
// gRPC completion handler and the ipfwdctl shell.
package cmdtree

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/psaab/ipfwd/pkg/forwarding"
)

// Node defines a completion tree node with description, children, and optional dynamic values.
type Node struct {
	Desc      string
	Children  map[string]*Node
	DynamicFn func(env *Env) []string
}

// Env carries the runtime values dynamic completions draw from.
type Env struct {
	Interfaces []string
}

// Candidate holds a command name and its description for display.
type Candidate struct {
	Name string
	Desc string
}

func dropReasonNames(*Env) []string {
	var names []string
	for _, r := range forwarding.DropReasons() {
		names = append(names, r.String())
	}
	return names
}

func interfaceNames(env *Env) []string {
	return env.Interfaces
}

// OperationalTree defines tab completion for the shell.
var OperationalTree = map[string]*Node{
	"show": {Desc: "Show information", Children: map[string]*Node{
		"status":     {Desc: "Show daemon status"},
		"statistics": {Desc: "Show forwarding counters"},
		"route":      {Desc: "Show routing table, or the route for an address"},
		"neighbors":  {Desc: "Show static neighbor table"},
		"interfaces": {Desc: "Show forwarding ports", DynamicFn: interfaceNames},
		"events": {Desc: "Show recent drop events", Children: map[string]*Node{
			"reason":  {Desc: "Filter by drop reason", DynamicFn: dropReasonNames},
			"port":    {Desc: "Filter by receiving port"},
			"address": {Desc: "Filter by source or destination address"},
			"count":   {Desc: "Maximum number of events"},
		}},
	}},
	"request": {Desc: "Make system-level requests", Children: map[string]*Node{
		"reload": {Desc: "Reload routing and neighbor tables"},
	}},
	"help": {Desc: "Show available commands"},
	"exit": {Desc: "Exit the shell"},
	"quit": {Desc: "Exit the shell"},
}

// HelpCandidates returns Candidates from a tree's children for help display.
func HelpCandidates(tree map[string]*Node) []Candidate {
	candidates := make([]Candidate, 0, len(tree))
	for name, node := range tree {
		candidates = append(candidates, Candidate{Name: name, Desc: node.Desc})
	}
	return candidates
}

// Complete walks the tree returning name+description pairs for the word
// being typed. words are the completed words before it.
func Complete(tree map[string]*Node, words []string, partial string, env *Env) []Candidate {
	if env == nil {
		env = &Env{}
	}
	current := tree
	var currentNode *Node
	dynamicConsumed := false
	for _, w := range words {
		dynamicConsumed = false
		node, ok := current[w]
		if !ok {
			// Word not in static children: if the parent takes a dynamic
			// value, treat it as that value and stay at the same level.
			if currentNode != nil && currentNode.DynamicFn != nil {
				dynamicConsumed = true
				continue
			}
			return nil
		}
		currentNode = node
		if node.Children == nil {
			if node.DynamicFn != nil {
				var candidates []Candidate
				for _, name := range FilterPrefix(node.DynamicFn(env), partial) {
					candidates = append(candidates, Candidate{Name: name})
				}
				return candidates
			}
			return nil
		}
		current = node.Children
	}

	var candidates []Candidate
	for name, node := range current {
		if strings.HasPrefix(name, partial) {
			candidates = append(candidates, Candidate{Name: name, Desc: node.Desc})
		}
	}
	if !dynamicConsumed && currentNode != nil && currentNode.DynamicFn != nil {
		for _, name := range FilterPrefix(currentNode.DynamicFn(env), partial) {
			candidates = append(candidates, Candidate{Name: name})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	return candidates
}

// SplitLine splits an input line into completed words and the partial
// word under the cursor.
func SplitLine(text string) (words []string, partial string) {
	words = strings.Fields(text)
	trailingSpace := len(text) > 0 && text[len(text)-1] == ' '
	if !trailingSpace && len(words) > 0 {
		partial = words[len(words)-1]
		words = words[:len(words)-1]
	}
	return words, partial
}

// WriteHelp prints aligned completion candidates to w.
// The entire output is built as a single string and written in one call
// so that readline's wrapWriter triggers only one Refresh cycle.
func WriteHelp(w io.Writer, candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
	maxWidth := 20
	for _, c := range candidates {
		if len(c.Name)+2 > maxWidth {
			maxWidth = len(c.Name) + 2
		}
	}
	var sb strings.Builder
	sb.WriteString("Possible completions:\n")
	for _, c := range candidates {
		if c.Desc != "" {
			fmt.Fprintf(&sb, "  %-*s %s\n", maxWidth, c.Name, c.Desc)
		} else {
			fmt.Fprintf(&sb, "  %s\n", c.Name)
		}
	}
	io.WriteString(w, sb.String())
}

// CommonPrefix returns the longest shared prefix among the given strings.
func CommonPrefix(items []string) string {
	if len(items) == 0 {
		return ""
	}
	prefix := items[0]
	for _, s := range items[1:] {
		for !strings.HasPrefix(s, prefix) {
			prefix = prefix[:len(prefix)-1]
			if prefix == "" {
				return ""
			}
		}
	}
	return prefix
}

// FilterPrefix returns only items that start with the given prefix.
func FilterPrefix(items []string, prefix string) []string {
	if prefix == "" {
		return items
	}
	var result []string
	for _, item := range items {
		if strings.HasPrefix(item, prefix) {
			result = append(result, item)
		}
	}
	return result
}
