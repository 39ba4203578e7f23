package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "crucible",
		Short: "Fair, reproducible benchmark runner for AI frameworks",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "crucible.yaml", "config file path")
	root.AddCommand(newRunCmd())
	root.AddCommand(newResumeCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newScoreCmd())
	root.AddCommand(newListCmd())
	return root
}
