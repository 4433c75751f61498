package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"awardbot/internal/agent"
	"awardbot/internal/domain"
	"awardbot/internal/generator"
	"awardbot/internal/source"
	"awardbot/internal/store"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan once, publish new announcements and exit",
		Long: `Runs a single detection tick, waits for every new announcement to be
dispatched and prints a summary. Interrupting leaves unfinished records
incomplete; see 'awardbot records incomplete'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := buildPipeline(cfg)
			if err != nil {
				return err
			}
			p.start(ctx)

			n, scanErr := p.detector.Scan(ctx)
			if scanErr == nil {
				logger.Info("scan complete", "new", n)
				waitCtx, cancel := context.WithTimeout(ctx, wait)
				if err := p.intake.WaitSettled(waitCtx, n); err != nil {
					logger.Warn("stopped before every announcement settled", "err", err)
				}
				cancel()
			}

			shutdownErr := p.shutdown()
			snap := p.intake.Stats().Snapshot()
			fmt.Printf("\n%s\n", snap.String())
			if scanErr != nil {
				return scanErr
			}
			return shutdownErr
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Minute, "how long to wait for dispatch runs to finish")
	return cmd
}

func startCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run continuously, scanning on an interval",
		Long:  "Starts every agent and scans the source on detector.intervalMinutes until interrupted. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if interval > 0 {
				cfg.Detector.IntervalMinutes = int(interval.Minutes())
				if cfg.Detector.IntervalMinutes < 1 {
					cfg.Detector.IntervalMinutes = 1
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := buildPipeline(cfg)
			if err != nil {
				return err
			}
			p.start(ctx)

			logger.Info("awardbot started. Press Ctrl+C to stop.", "version", version)
			p.detector.Run(ctx)

			logger.Info("shutting down...")
			return p.shutdown()
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "scan interval, overrides detector.intervalMinutes (e.g. 15m)")
	return cmd
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List award announcements at the source without publishing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			listed, err := source.New(cfg.Source, logger).ListCurrentAnnouncements(ctx)
			if err != nil {
				return err
			}

			seen := map[string]bool{}
			if st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger); err != nil {
				logger.Warn("record store unavailable, cannot mark processed items", "err", err)
			} else {
				defer st.Close()
				ids := make([]string, len(listed))
				for i, a := range listed {
					ids[i] = a.ID
				}
				if seen, err = st.Seen(ctx, ids); err != nil {
					return err
				}
			}

			if len(listed) == 0 {
				fmt.Println("No award announcements found.")
				return nil
			}
			for _, a := range listed {
				state := "new"
				if seen[a.ID] {
					state = "processed"
				}
				fmt.Printf("%-10s %s  %s\n", state, a.ID, a.Title)
				fmt.Printf("           %s\n", a.URL)
				if a.ImageURL != "" {
					fmt.Printf("           image: %s\n", a.ImageURL)
				}
			}
			return nil
		},
	}
}

func generateCmd() *cobra.Command {
	var title, summary, url string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate copy for a sample announcement without publishing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			gen, err := generator.New(cfg.Content, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := gen.Healthy(ctx); err != nil {
				logger.Warn("generator unhealthy", "generator", gen.Name(), "err", err)
			}

			now := time.Now()
			ann := &domain.Announcement{
				ID:          domain.AnnouncementID(now, title, summary),
				Title:       title,
				Summary:     summary,
				URL:         url,
				PublishedAt: now,
				DetectedAt:  now,
			}
			logger.Info("generating", "generator", gen.Name(), "priority", agent.AwardPriority(ann))

			ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Content.TimeoutSeconds)*time.Second)
			defer cancel()
			pkg, err := gen.Generate(ctx, ann, cfg.Content.Languages)
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}

			for _, lang := range cfg.Content.Languages {
				fmt.Printf("── %s ──\n", lang)
				if t := pkg.Titles[lang]; t != "" {
					fmt.Printf("%s\n\n", t)
				}
				fmt.Printf("%s\n\n", pkg.Texts[lang])
			}
			if len(pkg.Hashtags) > 0 {
				fmt.Printf("hashtags: %s\n", strings.Join(pkg.Hashtags, " "))
			}
			for name, text := range pkg.PlatformTexts {
				fmt.Printf("%s: %s\n", name, text)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "賀！本院學生團隊榮獲國際人工智慧競賽冠軍", "announcement title")
	cmd.Flags().StringVar(&summary, "summary", "本院學生團隊於國際人工智慧競賽中表現優異，從眾多隊伍中脫穎而出，榮獲冠軍。", "announcement summary")
	cmd.Flags().StringVar(&url, "url", "https://ai.nycu.edu.tw/", "announcement link")
	return cmd
}
