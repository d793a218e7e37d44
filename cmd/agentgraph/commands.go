package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentgraph/graph"
	"github.com/hupe1980/agentgraph/memory"
	"github.com/hupe1980/agentgraph/retriever"
)

type turnFlags struct {
	tenantID   string
	userID     string
	sessionID  string
	memoryMode string
	showTrace  bool
}

func (f *turnFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tenantID, "tenant", "default", "tenant identifier")
	cmd.Flags().StringVar(&f.userID, "user", "local", "user identifier")
	cmd.Flags().StringVar(&f.sessionID, "session", "", "session identifier (required)")
	cmd.Flags().StringVar(&f.memoryMode, "memory", "", "memory mode: rolling_window, summary_buffer, facts or hybrid")
	cmd.Flags().BoolVar(&f.showTrace, "trace", false, "print the turn trace")
	_ = cmd.MarkFlagRequired("session")
}

func (f *turnFlags) input(message string) graph.TurnInput {
	return graph.TurnInput{
		TenantID:   f.tenantID,
		UserID:     f.userID,
		SessionID:  f.sessionID,
		Message:    message,
		MemoryMode: memory.Mode(f.memoryMode),
	}
}

func printTurn(out *graph.TurnOutput, showTrace bool) {
	fmt.Println(out.Answer)
	if len(out.ToolsUsed) > 0 {
		fmt.Printf("\n[tools: %s]\n", strings.Join(out.ToolsUsed, ", "))
	}
	if showTrace {
		fmt.Println("\ntrace:")
		for _, e := range out.Trace {
			fmt.Printf("  %3d %-40s %s\n", e.Step, e.Action, e.Detail)
		}
		fmt.Printf("checkpoint: %s\n", out.CheckpointID)
	}
}

func newRunCmd() *cobra.Command {
	flags := &turnFlags{}
	var message string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return fmt.Errorf("--message is required")
			}
			handle, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer handle.Close()

			out, err := handle.graph.RunTurn(context.Background(), flags.input(message))
			if err != nil {
				return err
			}
			printTurn(out, flags.showTrace)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&message, "message", "", "user message (required)")
	return cmd
}

func newChatCmd() *cobra.Command {
	flags := &turnFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively within one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer handle.Close()

			fmt.Println("agentgraph chat; empty line or Ctrl-D to quit")
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					return nil
				}
				out, err := handle.graph.RunTurn(context.Background(), flags.input(line))
				if err != nil {
					return err
				}
				printTurn(out, flags.showTrace)
			}
		},
	}
	flags.register(cmd)
	return cmd
}

func newIndexCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "index [files...]",
		Short: "Ingest text files into the knowledge index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Retrieval.IndexPath == "" {
				return fmt.Errorf("retrieval.index_path must be set for indexing")
			}
			idx, err := retriever.NewBleveRetrieverAt(cfg.Retrieval.IndexPath)
			if err != nil {
				return err
			}
			defer idx.Close()

			total := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				label := source
				if label == "" {
					label = filepath.Base(path)
				}
				for i, chunk := range splitChunks(string(data)) {
					doc := retriever.Document{
						ID:          fmt.Sprintf("%s#%d", path, i),
						Text:        chunk,
						Source:      path,
						ChunkIndex:  i,
						SourceLabel: label,
					}
					if err := idx.Index(doc); err != nil {
						return err
					}
					total++
				}
			}
			fmt.Printf("indexed %d chunks from %d files\n", total, len(args))
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source label for citations (default: file name)")
	return cmd
}

// splitChunks slices a document into paragraph chunks.
func splitChunks(text string) []string {
	var chunks []string
	for _, part := range strings.Split(text, "\n\n") {
		part = strings.TrimSpace(part)
		if part != "" {
			chunks = append(chunks, part)
		}
	}
	return chunks
}

func newCheckpointsCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect and restore session checkpoints",
	}
	cmd.PersistentFlags().StringVar(&sessionID, "session", "", "session identifier (required)")
	_ = cmd.MarkPersistentFlagRequired("session")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the checkpoints of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer handle.Close()

			metas, err := handle.graph.ListCheckpoints(context.Background(), sessionID)
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				fmt.Println("no checkpoints")
				return nil
			}
			for _, m := range metas {
				fmt.Printf("%s  %s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), m.CheckpointID)
			}
			return nil
		},
	}

	restore := &cobra.Command{
		Use:   "restore [checkpoint-id]",
		Short: "Reset a session to a stored checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer handle.Close()

			ch, err := handle.graph.RestoreCheckpoint(context.Background(), sessionID, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("restored: %d messages, summary v%d, %d facts\n",
				len(ch.Messages), ch.Summary.Version, len(ch.Facts))
			return nil
		},
	}

	cmd.AddCommand(list, restore)
	return cmd
}
