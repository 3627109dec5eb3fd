package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rahul/taskmesh/internal/decompose"
)

func newIntentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "intents",
		Short: "List the intent families and the actions they produce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, f := range decompose.Families() {
				emits := make([]string, len(f.Emits))
				for i, t := range f.Emits {
					emits[i] = string(t)
				}
				fmt.Fprintf(out, "%-16s -> %s\n", f.Intent, strings.Join(emits, ", "))
				if len(f.Aliases) > 0 {
					fmt.Fprintf(out, "%-16s    aliases: %s\n", "", strings.Join(f.Aliases, ", "))
				}
			}
			return nil
		},
	}
}
