package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docsynth/backend/internal/extraction"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Store, extract and index local files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		app, err := newApplication(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer app.Close()

		failed := 0
		for _, path := range args {
			doc, err := app.processor.IngestFile(cmd.Context(), path)
			if err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: document %d, %d chunks, %s\n",
				path, doc.ID, len(doc.VectorIDs), extraction.HumanSize(doc.FileSize))
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(args))
		}
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question against the processed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		app, err := newApplication(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer app.Close()

		resp, err := app.engine.ProcessQuery(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Query %d: %d answers from %d documents (%.2fs)\n\n",
			resp.QueryID, len(resp.IndividualAnswers), resp.UniqueDocuments, resp.ProcessingTime)
		for _, a := range resp.IndividualAnswers {
			fmt.Fprintf(out, "- [%s, %s] %s (confidence %.2f)\n", a.DocumentFilename, a.Citation, a.Answer, a.Confidence)
		}
		if len(resp.Themes) > 0 {
			fmt.Fprintln(out, "\nThemes:")
		}
		for _, t := range resp.Themes {
			docs := make([]string, 0, len(t.SupportingDocuments))
			for _, d := range t.SupportingDocuments {
				docs = append(docs, d.Filename)
			}
			fmt.Fprintf(out, "* %s (%.2f): %s\n  supported by: %s\n", t.Title, t.Confidence, t.Summary, strings.Join(docs, ", "))
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print document, query and index counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		app, err := newApplication(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer app.Close()

		stats, err := app.processor.Stats(cmd.Context())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

var resetIndexCmd = &cobra.Command{
	Use:   "reset-index",
	Short: "Remove every entry from the similarity index",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to reset the index without --yes")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		app, err := newApplication(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer app.Close()

		if err := app.processor.ResetIndex(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "index reset")
		return nil
	},
}

func init() {
	askCmd.Flags().Bool("json", false, "print the full response as JSON")
	resetIndexCmd.Flags().Bool("yes", false, "confirm the reset")
}
