package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ent0n29/vaani/internal/app"
)

func (c *cli) modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List or download local speech models",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show speech models and whether they are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := c.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			catalog := app.SpeechModels(cfg)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCATEGORY\tINSTALLED\tFILE")
			for _, m := range catalog.Models() {
				present, err := catalog.Present(ctx, m.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", m.ID, m.Category, present, m.File)
			}
			return w.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "download <id>...",
		Short: "Download models that publish a URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := c.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			catalog := app.SpeechModels(cfg)
			for _, id := range args {
				logger.Info().Str("model", id).Msg("downloading")
				if err := catalog.DownloadModel(ctx, id); err != nil {
					return fmt.Errorf("download %s: %w", id, err)
				}
			}
			return nil
		},
	})
	return cmd
}
