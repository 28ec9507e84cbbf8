package base

import (
	"bytes"
	"flag"
	"fmt"
	"strings"
)

// FlagSet wraps flag.FlagSet with help text rendering for cli.Command.Help.
type FlagSet struct {
	*flag.FlagSet
}

func NewFlagSet(f *flag.FlagSet) *FlagSet {
	return &FlagSet{FlagSet: f}
}

// Help renders every flag as an indented "Options:" section.
func (f *FlagSet) Help() string {
	var buf bytes.Buffer
	first := true
	f.VisitAll(func(fl *flag.Flag) {
		if first {
			buf.WriteString("\n\nOptions:\n")
			first = false
		}
		fmt.Fprintf(&buf, "\n  -%s", fl.Name)
		if fl.DefValue != "" && fl.DefValue != "false" {
			fmt.Fprintf(&buf, "=%s", fl.DefValue)
		}
		buf.WriteString("\n")
		for _, line := range wrap(fl.Usage, 70) {
			fmt.Fprintf(&buf, "      %s\n", line)
		}
	})
	return strings.TrimRight(buf.String(), "\n")
}

func wrap(s string, width int) []string {
	var lines []string
	var line string
	for _, word := range strings.Fields(s) {
		if line != "" && len(line)+1+len(word) > width {
			lines = append(lines, line)
			line = ""
		}
		if line != "" {
			line += " "
		}
		line += word
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

// KeyValues collects repeated -flag key=value arguments.
type KeyValues map[string][]string

func (kv KeyValues) String() string {
	var parts []string
	for k, vs := range kv {
		for _, v := range vs {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, ",")
}

func (kv KeyValues) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	kv[k] = append(kv[k], v)
	return nil
}
