package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tariffcore/internal/hierarchy"
)

// TreeResult is the printable commodity tree.
type TreeResult struct {
	TransactionID   int64            `json:"transaction_id"`
	Prefix          string           `json:"prefix"`
	Nodes           []hierarchy.Node `json:"nodes"`
	Inconsistencies []string         `json:"inconsistencies,omitempty"`
}

// NewTreeCommand creates the tree command.
func NewTreeCommand(rootOpts *RootOptions) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "tree <transaction-id>",
		Short: "Print the commodity hierarchy as of a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "invalid transaction id " + args[0]}
			}
			app, err := rootOpts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			snap, err := app.Service.Tree(cmd.Context(), id, prefix)
			if err != nil {
				return err
			}
			res := TreeResult{TransactionID: id, Prefix: prefix}
			snap.Walk(func(n hierarchy.Node) bool {
				res.Nodes = append(res.Nodes, n)
				return true
			})
			for _, inc := range snap.Inconsistencies() {
				res.Inconsistencies = append(res.Inconsistencies, inc.Error())
			}
			return rootOpts.output(cmd).Emit(len(res.Inconsistencies) == 0, res, func(w io.Writer) { printTree(w, res) })
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "item id prefix, e.g. a chapter")
	return cmd
}

func printTree(w io.Writer, res TreeResult) {
	for _, n := range res.Nodes {
		fmt.Fprintf(w, "%s%s/%s indent %d %s\n", strings.Repeat("  ", n.Depth), n.ItemID, n.Suffix, n.Indent, n.Period)
	}
	for _, inc := range res.Inconsistencies {
		fmt.Fprintf(w, "! %s\n", inc)
	}
}
