package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/familienverein/meistereder/internal/bot"
	"github.com/familienverein/meistereder/internal/db"
	"github.com/familienverein/meistereder/internal/models"
	"github.com/familienverein/meistereder/internal/store"
)

var (
	regOutput  string
	convOutput string
)

func openStore() (*store.Store, error) {
	cfg, log, err := setup()
	if err != nil {
		return nil, err
	}
	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		return nil, err
	}
	return store.New(gdb, log)
}

func newRegistrationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "registrations",
		Aliases: []string{"reg"},
		Short:   "Inspect submitted registrations",
	}
	cmd.PersistentFlags().StringVarP(&regOutput, "output", "o", "table", "Output format: table, json or yaml")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the current version of every registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
				snaps, err := st.ListRegistrations(ctx)
				if err != nil {
					return err
				}
				return renderSnapshots(cmd.OutOrStdout(), snaps)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <key>",
		Short: "Show the current version of one registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
				snap, err := st.GetCurrentRegistration(ctx, args[0])
				if err != nil {
					return err
				}
				if snap == nil {
					return fmt.Errorf("registration %q not found", args[0])
				}
				return render(cmd.OutOrStdout(), structuredOutput(regOutput), snap)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "history <key>",
		Short: "Show every stored version of one registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
				snaps, err := st.GetRegistrationHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if len(snaps) == 0 {
					return fmt.Errorf("registration %q not found", args[0])
				}
				return renderSnapshots(cmd.OutOrStdout(), snaps)
			})
		},
	})
	return cmd
}

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect conversation state",
	}
	show := &cobra.Command{
		Use:   "show <identity>",
		Short: "Show the stored conversation for an email address, tg:<chat id> or chat session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
				conv, err := st.Load(ctx, args[0])
				if err != nil {
					return err
				}
				if conv == nil {
					return fmt.Errorf("conversation %q not found", args[0])
				}
				return render(cmd.OutOrStdout(), convOutput, conv)
			})
		},
	}
	show.Flags().StringVarP(&convOutput, "output", "o", "yaml", "Output format: json or yaml")
	cmd.AddCommand(show)
	return cmd
}

func newTelegramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telegram",
		Short: "Telegram bot maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set-webhook <url>",
		Short: "Register the public webhook URL with Telegram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			if cfg.TGBotToken == "" {
				return fmt.Errorf("TG_BOT_TOKEN is not set")
			}
			if err := bot.NewClient(cfg.TGBotToken).SetWebhook(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "webhook set")
			return nil
		},
	})
	return cmd
}

func withStore(ctx context.Context, fn func(context.Context, *store.Store) error) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	return fn(ctx, st)
}

// structuredOutput maps the table default to yaml for single documents.
func structuredOutput(format string) string {
	if format == "table" {
		return "yaml"
	}
	return format
}

func renderSnapshots(w io.Writer, snaps []models.Snapshot) error {
	if regOutput == "table" {
		return printSnapshotTable(w, snaps)
	}
	return render(w, regOutput, snaps)
}

// render writes v as json or yaml. yaml goes through json first so both
// formats use the same field names.
func render(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func printSnapshotTable(w io.Writer, snaps []models.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVERSION\tSUBMITTED\tCHILD\tPARENT\tTYPES")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			s.Metadata.RegistrationID,
			s.Metadata.Version,
			s.Metadata.SubmittedAt.Format("2006-01-02 15:04"),
			models.Str(s.Child.FullName),
			models.Str(s.ParentGuardian.FullName),
			strings.Join(s.Booking.PlaygroupTypes, ","),
		)
	}
	return tw.Flush()
}
