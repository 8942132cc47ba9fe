package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soaringjerry/Sondeo/internal/services"
)

var (
	exportFormat string
	exportOutput string
)

var answersCmd = &cobra.Command{
	Use:   "answers",
	Short: "Submitted answers",
}

var answersExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every submission as CSV",
	Long: `Signs in as an administrator and writes all submissions as CSV.

  long  one row per answer
  wide  one row per respondent, one column per question`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		stack, err := signedInAdmin(ctx)
		if err != nil {
			return err
		}
		subs, err := stack.survey.Submissions(ctx)
		if err != nil {
			return err
		}
		data, err := services.ExportSubmissions(subs, services.ExportFormat(exportFormat))
		if err != nil {
			return err
		}
		if exportOutput == "" || exportOutput == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(exportOutput, data, 0o600); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		logger.Info("submissions exported", zap.Int("count", len(subs)), zap.String("file", exportOutput))
		return nil
	},
}

func init() {
	answersExportCmd.Flags().StringVar(&exportFormat, "format", string(services.ExportLong), "CSV layout: long or wide")
	answersExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "-", "output file, - for stdout")
	answersCmd.AddCommand(answersExportCmd)
}
