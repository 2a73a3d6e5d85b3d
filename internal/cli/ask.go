package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docqa/internal/progress"
)

var askJSON bool

var askCmd = &cobra.Command{
	Use:   "ask [file] [question]",
	Short: "Answer one question about a document",
	Long: `Ingests the document and prints the answer to a single question.
The remaining arguments are joined into the question.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}
	question := strings.Join(args[1:], " ")

	factory, err := newSessionFactory(cfg, log)
	if err != nil {
		return err
	}
	session := factory()

	ctx := context.Background()
	stop := progress.Spinner(!askJSON && progress.DefaultEnabled(), "Ingesting "+doc.Name)
	n, err := session.Ingest(ctx, doc)
	stop()
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	answer, err := session.Ask(ctx, question)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if askJSON {
		data, err := json.MarshalIndent(map[string]any{
			"document": doc.Name,
			"chunks":   n,
			"question": question,
			"answer":   answer,
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Println(answer)
	return nil
}
