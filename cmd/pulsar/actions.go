package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/oriys/pulsar/internal/cluster"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/spf13/cobra"
)

func actionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "List action-to-peer bindings from the configured directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

			ctx := context.Background()
			dir, err := openDirectory(ctx, cfg)
			if err != nil {
				return err
			}
			defer dir.close()

			bindings, err := dir.Bindings(ctx)
			if err != nil {
				return fmt.Errorf("list bindings: %w", err)
			}
			if len(bindings) == 0 {
				fmt.Println("No actions bound")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ACTION\tPEER")
			for _, line := range cluster.SortedBindings(bindings) {
				name, peer, _ := strings.Cut(line, "=")
				fmt.Fprintf(w, "%s\t%s\n", name, peer)
			}
			return w.Flush()
		},
	}
	return cmd
}
