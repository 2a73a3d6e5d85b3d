package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"docqa/internal/progress"
	"docqa/internal/service"
	"docqa/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat [file]",
	Short: "Chat with a document in the terminal",
	Long:  `Ingests the document, then opens an interactive question and answer session.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(_ *cobra.Command, args []string) error {
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}

	bar := progress.New(progress.DefaultEnabled(), "Embedding chunks")
	factory, err := newSessionFactory(cfg, log, service.WithProgress(bar.Update))
	if err != nil {
		return err
	}
	session := factory()

	ctx := context.Background()
	n, err := session.Ingest(ctx, doc)
	bar.Finish()
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	summary := fmt.Sprintf("%s (%d chunks)", doc.Name, n)
	if _, err := tea.NewProgram(tui.New(ctx, session, summary), tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("tui failed: %w", err)
	}
	return nil
}
