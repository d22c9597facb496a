package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/voicebook/voicebook-api/internal/job"
)

// RecordsCmd creates the records command with subcommands.
func RecordsCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Manage the record catalog",
		Long: `List, inspect and delete conversion runs.

Records are stored in DATA_DIR/records.db; deleting a record also removes
its chapter audio.`,
		Example: `  voicebook records list
  voicebook records get 0b6f3c9e-5a7d-4c1e-9a51-2f7d1f0c6a11
  voicebook records delete 0b6f3c9e-5a7d-4c1e-9a51-2f7d1f0c6a11`,
	}

	cmd.AddCommand(recordsListCmd(env))
	cmd.AddCommand(recordsGetCmd(env))
	cmd.AddCommand(recordsDeleteCmd(env))

	return cmd
}

func recordsListCmd(env *Env) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), env, func(svc Service) error {
				records, err := svc.ListRecords(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(env.Stdout, records)
				}
				printRecordList(env.Stdout, records)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print records as JSON")
	return cmd
}

func recordsGetCmd(env *Env) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one record with its chapters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), env, func(svc Service) error {
				rec, err := svc.GetRecord(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(env.Stdout, rec)
				}
				printRecord(env.Stdout, rec)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the record as JSON")
	return cmd
}

func recordsDeleteCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a record and its audio files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), env, func(svc Service) error {
				if err := svc.DeleteRecord(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(env.Stderr, "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func printRecordList(w io.Writer, records []*job.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tSTATUS\tCHAPTERS\tCREATED\tNAME")
	for _, rec := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			rec.Index, rec.ID, rec.Status, rec.ChapterCount,
			rec.CreatedAt.Local().Format(time.DateTime), rec.OriginalName)
	}
	_ = tw.Flush()
}

func printRecord(w io.Writer, rec *job.Record) {
	fmt.Fprintf(w, "Record #%d  %s\n", rec.Index, rec.ID)
	fmt.Fprintf(w, "Name:     %s\n", rec.OriginalName)
	fmt.Fprintf(w, "Status:   %s\n", rec.Status)
	fmt.Fprintf(w, "Created:  %s\n", rec.CreatedAt.Local().Format(time.DateTime))
	if rec.OutDir != "" {
		fmt.Fprintf(w, "Output:   %s\n", rec.OutDir)
	}
	if rec.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", rec.Error)
	}
	if len(rec.Chapters) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTITLE\tWORDS\tMIN\tAUDIO")
	for _, ch := range rec.Chapters {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", ch.Index, ch.Title, ch.Words, ch.Minutes, ch.AudioPath)
	}
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
