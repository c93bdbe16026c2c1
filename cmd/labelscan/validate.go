package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/labelscan/internal/snvalidate"
)

var validateCmd = &cobra.Command{
	Use:   "validate <sn>...",
	Short: "Check serial numbers against the label format",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		invalid := 0
		for _, sn := range args {
			res := snvalidate.Validate(sn)
			state := "OK"
			if !res.IsValid {
				state = "INVALID"
				invalid++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", sn, state)
			for _, m := range res.Messages {
				fmt.Fprintf(cmd.OutOrStdout(), "    [%s] %s\n", m.Severity, m.Text)
			}
		}
		if invalid > 0 {
			return fmt.Errorf("%d of %d serial number(s) invalid", invalid, len(args))
		}
		return nil
	},
}

func init() {
	validateCmd.SetHelpTemplate(validateCmd.HelpTemplate() + "\nFormat: " + strings.Join([]string{
		snvalidate.Prefix, "letter", "digit", "letter", "9 digits", "2 alphanumerics",
	}, " + ") + "\n")
	rootCmd.AddCommand(validateCmd)
}
