package main

import (
	"context"
	"fmt"
	"time"

	"awardbot/internal/agent"
	"awardbot/internal/domain"
	"awardbot/internal/store"

	"github.com/spf13/cobra"
)

func recordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect and manage processed announcements",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recently seen announcements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.SQLiteStore) error {
				recs, err := st.List(ctx, limit)
				if err != nil {
					return err
				}
				printRecords(recs)
				return nil
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of records")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "incomplete",
		Short: "List announcements whose dispatch never finished",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.SQLiteStore) error {
				recs, err := st.ListIncomplete(ctx)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No incomplete records.")
					return nil
				}
				printRecords(recs)
				fmt.Println("\nUse 'awardbot records redeliver <id>' to process one again.")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [id]",
		Short: "Show one record with its per-platform results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.SQLiteStore) error {
				rec, err := st.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "redeliver [id]",
		Short: "Forget a record so the next scan processes it again",
		Long: `Deletes the record and its publish results. If the announcement is still
listed at the source, the next scan treats it as new and publishes it to
every enabled platform again, including those that already succeeded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store.SQLiteStore) error {
				if err := st.Delete(ctx, args[0]); err != nil {
					return err
				}
				logger.Info("record removed; it will be processed on the next scan", "id", args[0])
				return nil
			})
		},
	})

	return cmd
}

func withStore(fn func(ctx context.Context, st *store.SQLiteStore) error) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, st)
}

func printRecords(recs []domain.ProcessedRecord) {
	for _, r := range recs {
		seen := r.FirstSeenAt.Local().Format("2006-01-02 15:04")
		if r.Outcome == nil {
			fmt.Printf("%s  %-14s %s  %s\n", seen, "incomplete", r.AnnouncementID, r.Title)
			continue
		}
		fmt.Printf("%s  %s\n", seen, agent.Summary(r.Outcome))
	}
}
