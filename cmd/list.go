package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crucible-bench/crucible/internal/config"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured frameworks and use cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Println("Frameworks:")
			for _, f := range cfg.Frameworks {
				if f.Image != "" {
					fmt.Printf("  - %s (image: %s)\n", f.Name, f.Image)
				} else {
					fmt.Printf("  - %s (command: %s)\n", f.Name, strings.Join(f.Command, " "))
				}
			}
			fmt.Println("\nUse cases:")
			for _, u := range cfg.UseCases {
				fmt.Printf("  - %s [%s] x%d\n", u.Name, u.EvaluatorFamily(), u.Repetitions)
			}
			return nil
		},
	}
}
