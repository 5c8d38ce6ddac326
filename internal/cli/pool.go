package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// poolSelector binds the --use-<state> shortcuts and --pool of one command
type poolSelector struct {
	def     string
	pool    string
	choices []*poolChoice
}

type poolChoice struct {
	flag  string
	state string
	set   bool
}

func newPoolSelector(cmd *cobra.Command, def string, shortcuts map[string]string) *poolSelector {
	p := &poolSelector{def: def}
	for _, flag := range sortedKeys(shortcuts) {
		choice := &poolChoice{flag: flag, state: shortcuts[flag]}
		suffix := ""
		if choice.state == def {
			suffix = " (default)"
		}
		cmd.Flags().BoolVar(&choice.set, flag, false, fmt.Sprintf("Use the %s pool%s", choice.state, suffix))
		p.choices = append(p.choices, choice)
	}
	cmd.Flags().StringVar(&p.pool, "pool", "", "Use a named state pool")
	return p
}

// state returns the selected pool; more than one selection is an error
func (p *poolSelector) state() (string, error) {
	var picked []string
	var state string
	for _, c := range p.choices {
		if c.set {
			picked = append(picked, "--"+c.flag)
			state = c.state
		}
	}
	if p.pool != "" {
		picked = append(picked, "--pool")
		state = p.pool
	}
	switch len(picked) {
	case 0:
		return p.def, nil
	case 1:
		return state, nil
	}
	return "", fmt.Errorf("choose one of %s", strings.Join(picked, ", "))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
