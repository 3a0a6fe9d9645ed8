package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"shiftdoc/internal"
	"shiftdoc/internal/connectors"
	"shiftdoc/internal/ident"
	"shiftdoc/internal/listener"
	"shiftdoc/internal/narrative"
	"shiftdoc/internal/pipeline"
	"shiftdoc/internal/roster"
	"shiftdoc/internal/storage"
)

func rosterSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "roster:sync",
		Short: "Crawl the Kipu occupancy board and replace the stored roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}
			n, err := roster.NewSyncService(db, a.cfg, a.logger).Sync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "roster sync complete: %d patients\n", n)
			return nil
		},
	}
}

func rosterImportCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "roster:import",
		Short: "Replace the stored roster from a saved occupancy page",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			db, err := a.database()
			if err != nil {
				return err
			}
			n, err := roster.NewSyncService(db, a.cfg, a.logger).ImportHTML(f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "roster import complete: %d patients\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "saved occupancy page (html)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func rosterListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "roster:list",
		Short: "Print the stored roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}
			entries, err := db.ListRoster()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATIENT\tNAME\tIDENTIFIER\tKEY")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.PatientID, e.Name, e.IdentifierField, ident.Key(e.IdentifierField))
			}
			return w.Flush()
		},
	}
}

func reportImportCmd(a *app, use, short string, kind internal.ReportKind) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readReportText(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			db, err := a.database()
			if err != nil {
				return err
			}
			svc := pipeline.NewProcessingService(db, a.cfg, a.logger)
			var res pipeline.ImportResult
			if kind == internal.ReportCravings {
				res, err = svc.ImportCravings(text, nil)
			} else {
				res, err = svc.ImportShiftNotes(text, nil)
			}
			if err != nil {
				return err
			}
			printImport(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "report file (.txt, .eml, .pdf, .xlsx) or - for stdin")
	return cmd
}

func reportsFetchCmd(a *app) *cobra.Command {
	var provider, label string
	var max int
	cmd := &cobra.Command{
		Use:   "reports:fetch",
		Short: "Fetch report e-mails into the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := makeConnector(cmd.Context(), a.cfg, provider)
			if err != nil {
				return err
			}
			if conn == nil {
				return fmt.Errorf("--provider must be gmail or imap")
			}
			db, err := a.database()
			if err != nil {
				return err
			}
			res, err := connectors.NewFetchService(db, a.cfg.RawMailDir, conn, a.logger).FetchAndStore(cmd.Context(), label, max)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fetch done provider=%s fetched=%d stored=%d\n", provider, res.Fetched, res.Stored)
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "imap", "gmail|imap")
	cmd.Flags().StringVar(&label, "label", "INBOX", "mailbox or label")
	cmd.Flags().IntVar(&max, "max", 50, "max messages")
	return cmd
}

func reportsProcessCmd(a *app) *cobra.Command {
	var provider, messageID string
	var batch int
	cmd := &cobra.Command{
		Use:   "reports:process",
		Short: "Parse fetched reports and import them",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}
			svc := pipeline.NewProcessingService(db, a.cfg, a.logger)
			if strings.TrimSpace(messageID) != "" {
				res, err := svc.ProcessByProviderMessageID(provider, messageID)
				if err != nil {
					return err
				}
				printImport(cmd.OutOrStdout(), res)
				return nil
			}
			reports, records, err := svc.ProcessPending(batch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed pending reports=%d records=%d\n", reports, records)
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "imap", "provider of --message-id (gmail|imap|drop)")
	cmd.Flags().StringVar(&messageID, "message-id", "", "process one stored report")
	cmd.Flags().IntVar(&batch, "batch", 20, "batch size")
	return cmd
}

func reportsListenCmd(a *app) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "reports:listen",
		Short: "Fetch, ingest and process reports until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, err := makeConnector(ctx, a.cfg, a.cfg.ListenerProvider)
			if err != nil {
				return err
			}
			db, err := a.database()
			if err != nil {
				return err
			}
			svc := listener.NewService(db, a.cfg, conn, a.logger)
			if !once {
				return svc.Run(ctx)
			}
			res, err := svc.RunCycle(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cycle done fetched=%d ingested=%d processed=%d exported=%s\n", res.Fetched, res.Ingested, res.Processed, res.Exported)
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	return cmd
}

func evalSaveCmd(a *app) *cobra.Command {
	var patientID, data, file string
	cmd := &cobra.Command{
		Use:   "eval:save",
		Short: "Store an evaluation (JSON object) for a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			blob := []byte(data)
			if file != "" {
				var err error
				if blob, err = os.ReadFile(file); err != nil {
					return err
				}
			}
			var payload map[string]any
			if err := json.Unmarshal(blob, &payload); err != nil {
				return fmt.Errorf("evaluation must be a JSON object: %w", err)
			}
			db, err := a.database()
			if err != nil {
				return err
			}
			ev, err := db.SaveEvaluation(patientID, payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evaluation saved id=%d patient=%s\n", ev.ID, ev.PatientID)
			return nil
		},
	}
	cmd.Flags().StringVar(&patientID, "patient", "", "patient id")
	cmd.Flags().StringVar(&data, "data", "{}", "evaluation JSON")
	cmd.Flags().StringVar(&file, "file", "", "read evaluation JSON from file")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func evalPrefillCmd(a *app) *cobra.Command {
	var patientID string
	cmd := &cobra.Command{
		Use:   "eval:prefill",
		Short: "Print form defaults from the latest imported reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}
			patient, err := db.GetPatient(patientID)
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("patient %s is not on the stored roster; run roster:sync first", patientID)
			}
			if err != nil {
				return err
			}
			craving, err := db.GetImportedCraving(patientID)
			if err != nil {
				return err
			}
			var note *internal.StoredShiftNote
			if key := ident.Key(patient.IdentifierField); key != "" {
				if note, err = db.GetShiftNote(key); err != nil {
					return err
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pipeline.Prefill(patient, craving, note))
		},
	}
	cmd.Flags().StringVar(&patientID, "patient", "", "patient id")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func evalCompleteCmd(a *app) *cobra.Command {
	var patientID string
	var undo bool
	cmd := &cobra.Command{
		Use:   "eval:complete",
		Short: "Mark a patient's evaluation as complete",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}
			if err := db.SetCompleted(patientID, !undo); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "patient=%s completed=%t\n", patientID, !undo)
			return nil
		},
	}
	cmd.Flags().StringVar(&patientID, "patient", "", "patient id")
	cmd.Flags().BoolVar(&undo, "undo", false, "clear the completed mark")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func narrativeEnhanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "narrative:enhance",
		Short: "Generate shift-note narratives for completed evaluations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.database()
			if err != nil {
				return err
			}
			client := narrative.NewClient(a.cfg, a.logger)
			res, err := narrative.NewService(db, client, a.logger).EnhanceCompleted(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enhanced=%d skipped=%d failed=%d\n", len(res.Enhanced), len(res.Skipped), len(res.Failed))
			return nil
		},
	}
}

func exportCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export:xlsx",
		Short: "Write imported cravings and shift notes to a workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = filepath.Join(a.cfg.OutputDir, fmt.Sprintf("shiftdoc_%s.xlsx", time.Now().UTC().Format("20060102T150405Z")))
			}
			db, err := a.database()
			if err != nil {
				return err
			}
			cravings, err := db.GetCravingExportRows()
			if err != nil {
				return err
			}
			notes, err := db.GetShiftNoteExportRows()
			if err != nil {
				return err
			}
			review, err := db.ListCravingReview()
			if err != nil {
				return err
			}
			if err := pipeline.ExportToXLSX(cravings, notes, review, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported cravings=%d shift_notes=%d review=%d to %s\n", len(cravings), len(notes), len(review), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output xlsx path (default OUTPUT_DIR/shiftdoc_<time>.xlsx)")
	return cmd
}

func wipeCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "data:wipe",
		Short: "Delete roster, imports, evaluations and flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to wipe without --yes")
			}
			db, err := a.database()
			if err != nil {
				return err
			}
			if err := db.WipeClientData(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "client data deleted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func runCmd(a *app) *cobra.Command {
	var input, kind, rosterFile, output string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Parse one report and export it without storing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			reportKind, err := parseKind(kind)
			if err != nil {
				return err
			}
			text, err := readReportText(cmd.InOrStdin(), input)
			if err != nil {
				return err
			}

			var entries []internal.RosterEntry
			if rosterFile != "" {
				f, err := os.Open(rosterFile)
				if err != nil {
					return err
				}
				entries, err = roster.ParseOccupancyBoard(f)
				f.Close()
				if err != nil {
					return err
				}
			} else {
				db, err := a.database()
				if err != nil {
					return err
				}
				if entries, err = db.ListRoster(); err != nil {
					return err
				}
			}

			res := pipeline.RunOneShot(reportKind, text, entries)
			if err := pipeline.ExportToXLSX(res.Cravings, res.ShiftNotes, res.Review, output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run done kind=%s cravings=%d shift_notes=%d output=%s\n", res.Kind, len(res.Cravings), len(res.ShiftNotes), output)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "-", "report file or - for stdin")
	cmd.Flags().StringVar(&kind, "type", "auto", "cravings|shift_notes|auto")
	cmd.Flags().StringVar(&rosterFile, "roster", "", "saved occupancy page to match against instead of the stored roster")
	cmd.Flags().StringVar(&output, "output", "", "output xlsx path")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func parseKind(v string) (internal.ReportKind, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "auto":
		return internal.ReportUnknown, nil
	case "cravings", "craving":
		return internal.ReportCravings, nil
	case "shift_notes", "shiftnotes", "shift-notes":
		return internal.ReportShiftNotes, nil
	default:
		return "", fmt.Errorf("unknown report type %q", v)
	}
}

func readReportText(stdin io.Reader, path string) (string, error) {
	if path == "" || path == "-" {
		blob, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		return pipeline.DecodeReportText(blob)
	}
	return pipeline.ExtractReportFromFile(path)
}

func printImport(w io.Writer, res pipeline.ImportResult) {
	fmt.Fprintf(w, "import done kind=%s parsed=%d matched=%d trace=%s\n", res.Kind, res.Parsed, res.Matched, res.TraceID)
	if len(res.Unmatched) > 0 {
		fmt.Fprintf(w, "not on roster: %s\n", strings.Join(res.Unmatched, ", "))
	}
}
