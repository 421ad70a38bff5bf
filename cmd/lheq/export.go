package main

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fortuna/lheq/internal/export"
	"github.com/fortuna/lheq/internal/jsonfile"
)

func newExportCommand(a *app) *cobra.Command {
	var (
		kind    string
		suffix  string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the generated teams or players statistics as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := export.ParseKind(kind)
			if err != nil {
				return err
			}
			if suffix != "" && suffix != "_season" {
				return fmt.Errorf("unknown suffix %q (use \"\" or _season)", suffix)
			}

			if outPath == "" || outPath == "-" {
				return export.Export(cmd.OutOrStdout(), a.cfg.WebDir, suffix, k)
			}

			var buf bytes.Buffer
			if err := export.Export(&buf, a.cfg.WebDir, suffix, k); err != nil {
				return err
			}
			if err := jsonfile.WriteAtomic(outPath, buf.Bytes()); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			a.logger.Info().Str("file", outPath).Str("kind", kind).Msg("exported")
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(export.KindTeams), "teams or players")
	cmd.Flags().StringVar(&suffix, "suffix", "", `file variant: "" (with tournaments) or _season`)
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	return cmd
}
