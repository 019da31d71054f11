package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/zen-systems/stagerun/pkg/command"
)

// WriteStageTable writes a table of stages in registration order.
func WriteStageTable(w io.Writer, p *Pipeline) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tNEEDS\tDESCRIPTION")
	for _, s := range p.Stages() {
		needs := "-"
		if len(s.Prerequisites) > 0 {
			needs = strings.Join(s.Prerequisites, ", ")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, needs, s.Description)
	}
	return tw.Flush()
}

func helpBuiltin(p *Pipeline) command.Func {
	return func(_ context.Context, env command.Env, _ []string) error {
		w := env.Stdout
		if w == nil {
			w = os.Stdout
		}
		if p.Description != "" {
			fmt.Fprintf(w, "%s: %s\n\n", p.Name, p.Description)
		}
		return WriteStageTable(w, p)
	}
}
