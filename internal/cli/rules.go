package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"tariffcore/internal/core"
)

// RuleInfo describes one catalog rule.
type RuleInfo struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Prerequisites []string `json:"prerequisites,omitempty"`
}

// NewRulesCommand creates the rules command.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the business rule catalog in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := core.NewDefaultRegistry(nil, rootOpts.cfg.Check.Warn...)
			if err != nil {
				return err
			}
			var infos []RuleInfo
			for _, rule := range registry.Rules() {
				infos = append(infos, RuleInfo{Name: rule.Name(), Description: rule.Description(), Prerequisites: rule.Prerequisites()})
			}
			return rootOpts.output(cmd).Emit(true, infos, func(w io.Writer) {
				for _, info := range infos {
					after := ""
					if len(info.Prerequisites) > 0 {
						after = " (after " + strings.Join(info.Prerequisites, ", ") + ")"
					}
					fmt.Fprintf(w, "%-6s %s%s\n", info.Name, info.Description, after)
				}
			})
		},
	}
}
