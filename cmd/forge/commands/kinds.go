package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	appconfig "github.com/opsforge/opsforge/pkg/config"
	"github.com/opsforge/opsforge/pkg/engine"
	"github.com/opsforge/opsforge/pkg/playbook"
)

func newKindsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kinds",
		Short: "List run kinds and available playbooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(configPath)
			if err != nil {
				return err
			}
			catalog, err := playbook.NewCatalog(cfg.PlaybookRoot)
			if err != nil {
				return err
			}

			fmt.Println("Known run kinds:")
			for _, kind := range engine.KnownKinds() {
				strategy := engine.StrategyFor(kind)
				fmt.Printf("  %-12s roles=%s", kind, strategy.RolesDir)
				for _, svc := range strategy.Services {
					fmt.Printf(" service=%s", svc.Name)
				}
				fmt.Println()
			}

			fmt.Println("\nAvailable playbooks:")
			for _, name := range catalog.Playbooks() {
				fmt.Printf("  %s\n", name)
			}
			return nil
		},
	}

	return cmd
}
