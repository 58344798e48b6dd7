package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/timmy/vidtalker/internal/app"
	"github.com/timmy/vidtalker/internal/domain"
	"github.com/timmy/vidtalker/internal/transcript"
)

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <url>",
		Short: "Download, transcribe, embed and index a video",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			run, err := a.Pipeline.ProcessVideo(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]interface{}{
					"status":          "success",
					"run_id":          run.ID,
					"transcript_file": run.TranscriptFile,
					"vector_count":    run.VectorCount,
				})
				return nil
			}
			fmt.Printf("✓ Run %s complete\n", run.ID)
			fmt.Printf("✓ Transcript: %s\n", run.TranscriptFile)
			fmt.Printf("✓ Indexed %d segments into %s\n", run.VectorCount, run.IndexName)
			return nil
		}),
	}
}

func transcribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Run a diarized transcription job for a local audio file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			path, err := a.Transcriber.Transcribe(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]string{"status": "success", "transcript_file": path})
			} else {
				fmt.Println(path)
			}
			return nil
		}),
	}
}

func embedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "embed <transcript-file>",
		Short: "Embed every transcript entry and write <name>.embedded.json",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			file, err := transcript.Load(args[0])
			if err != nil {
				return err
			}
			n, err := a.Vectorizer.VectorizeFile(ctx, file)
			if err != nil {
				return err
			}
			out := transcript.EmbeddedPath(args[0])
			if err := transcript.Save(out, file); err != nil {
				return domain.E(domain.KindEmbedding, "cli.embed", err)
			}
			if jsonOutput {
				printJSON(map[string]interface{}{"status": "success", "embedded_file": out, "count": n})
			} else {
				fmt.Printf("✓ Embedded %d entries -> %s\n", n, out)
			}
			return nil
		}),
	}
}

func askCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about the indexed video",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			answer, err := a.Answers.AnswerQuestion(ctx, strings.Join(args, " "), topK)
			if err != nil {
				return err
			}
			defer answer.Stream.Close()

			if jsonOutput {
				printJSON(map[string]interface{}{
					"status":    "success",
					"answer":    answer.Stream.Collect(),
					"contexts":  answer.Contexts,
					"citations": answer.Citations,
				})
				return nil
			}

			for f := range answer.Stream.Fragments() {
				fmt.Print(f)
			}
			fmt.Println()
			if len(answer.Contexts) > 0 {
				fmt.Println("\nSources:")
				for i, c := range answer.Contexts {
					fmt.Printf("[%d] %s\n", i, c)
				}
			}
			return nil
		}),
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of transcript segments to retrieve (default from config)")
	return cmd
}

func blogCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "blog <transcript-file>",
		Short: "Generate a markdown blog post from a transcript",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			post := a.Blog.GenerateFromFile(ctx, args[0])
			if strings.HasPrefix(post, "Error:") {
				return domain.Errorf(domain.KindMalformedInput, "cli.blog", "%s", post)
			}
			if output != "" {
				if err := os.WriteFile(output, []byte(post), 0644); err != nil {
					return err
				}
			}
			switch {
			case jsonOutput:
				printJSON(map[string]string{"status": "success", "blog_content": post})
			case output != "":
				fmt.Printf("✓ Blog post written to %s\n", output)
			default:
				fmt.Println(post)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the post to a file")
	return cmd
}

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the similarity index",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create the index if needed and wait until it is ready",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App, _ []string) error {
			if err := a.Index.EnsureIndex(ctx); err != nil {
				return err
			}
			return printStats(ctx, a)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "load <embedded-transcript-file>",
		Short: "Replace the index contents with an embedded transcript",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			file, err := transcript.Load(args[0])
			if err != nil {
				return err
			}
			vectors, err := transcript.ToVectors(file)
			if err != nil {
				return err
			}
			if err := a.Index.EnsureIndex(ctx); err != nil {
				return err
			}
			loaded, err := a.Index.ReplaceAll(ctx, vectors)
			if err != nil {
				return err
			}
			if !loaded && !jsonOutput {
				fmt.Println("No vectors to upsert; index cleared")
			}
			return printStats(ctx, a)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show index state and vector count",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App, _ []string) error {
			return printStats(ctx, a)
		}),
	})

	return cmd
}

func printStats(ctx context.Context, a *app.App) error {
	stats, err := a.Index.Stats(ctx)
	if err != nil {
		return domain.E(domain.KindIndexNotReady, "cli.index", err)
	}
	if jsonOutput {
		printJSON(stats)
		return nil
	}
	fmt.Printf("Index:     %s\n", stats.Name)
	fmt.Printf("State:     %s\n", stats.State)
	fmt.Printf("Dimension: %d\n", stats.Dimension)
	fmt.Printf("Vectors:   %d\n", stats.VectorCount)
	return nil
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect pipeline run history",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent pipeline runs",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App, _ []string) error {
			runs, err := a.Runs.List(ctx, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(runs)
				return nil
			}
			for _, r := range runs {
				fmt.Printf("%s  %-9s  %-10s  %s\n", r.ID, r.Status, r.Stage, r.URL)
			}
			return nil
		}),
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			run, err := a.Runs.GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			printJSON(run)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "archive <run-id>",
		Short: "Upload a run's artifacts that are not archived yet",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			if a.Archive == nil {
				return errStorageDisabled
			}
			run, err := a.Runs.GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			urls, err := a.Archive.ArchiveRun(ctx, run.ID, run.AudioPath, run.TranscriptFile, run.EmbeddedFile)
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(map[string]interface{}{"status": "success", "run_id": run.ID, "urls": urls})
				return nil
			}
			for _, u := range urls {
				fmt.Println(u)
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <run-id>",
		Short: "Download a run's archived transcripts into the transcript directory",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			if a.Archive == nil {
				return errStorageDisabled
			}
			run, err := a.Runs.GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			var restored []string
			for _, name := range []string{run.TranscriptFile, run.EmbeddedFile} {
				if name == "" {
					continue
				}
				path, err := a.Archive.Restore(ctx, run.ID, name, a.Config.Transcription.OutputDir)
				if err != nil {
					return err
				}
				restored = append(restored, path)
			}
			if jsonOutput {
				printJSON(map[string]interface{}{"status": "success", "run_id": run.ID, "files": restored})
				return nil
			}
			for _, p := range restored {
				fmt.Printf("✓ Restored %s\n", p)
			}
			return nil
		}),
	})

	return cmd
}

var errStorageDisabled = domain.Errorf(domain.KindMalformedInput, "cli.runs", "artifact storage is not enabled (storage.enabled)")
