package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seenimoa/reportalpha/internal/crawler"
	"github.com/seenimoa/reportalpha/internal/infra"
	"github.com/seenimoa/reportalpha/internal/notify"
	"github.com/seenimoa/reportalpha/internal/store"
	"github.com/seenimoa/reportalpha/pkg/utils"
)

// --- Shared wiring ---

func newFetcher() (*infra.Fetcher, *infra.Rand) {
	rng := infra.NewRand(cfg.Crawler.Seed)
	pacer := infra.NewPacer(cfg.Crawler.RequestInterval)
	return infra.NewFetcher(cfg.Crawler.Timeout, cfg.Crawler.UserAgents, rng, pacer), rng
}

func openStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	return st, nil
}

// loadResolver reads the stock name table. A missing table leaves only the
// embedded-code rule.
func loadResolver() (*crawler.CodeResolver, error) {
	path := cfg.Crawler.StockTable
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Warn("stock table not found, resolving codes from titles only", zap.String("path", path))
		path = ""
	}
	return crawler.LoadCodeResolver(path, cfg.Crawler.CompanyTypes)
}

// crawlRange resolves the --start/--end flags, falling back to the
// configured dates and then the previous working day.
func crawlRange(cmd *cobra.Command, defStart, defEnd string) (string, string, error) {
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	if start == "" && end == "" {
		start, end = defStart, defEnd
	}
	from, to, err := utils.DateRange(start, end, utils.NowCST())
	if err != nil {
		return "", "", err
	}
	return utils.FormatDateCST(from), utils.FormatDateCST(to), nil
}

func notifyDone(ctx context.Context, text string) {
	hook := notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Crawler.Timeout)
	if !hook.Enabled() {
		return
	}
	if err := hook.Send(ctx, text); err != nil {
		logger.Warn("webhook notification failed", zap.Error(err))
	}
}

func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("start", "", "first publish date, YYYY-MM-DD (default: previous working day)")
	cmd.Flags().String("end", "", "last publish date, YYYY-MM-DD (default: start)")
}

// --- Crawl Commands ---

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl research reports from a source",
}

var crawlEastmoneyCmd = &cobra.Command{
	Use:   "eastmoney",
	Short: "List Eastmoney reports and download their PDFs into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := crawlRange(cmd, cfg.Crawler.Eastmoney.StartDate, cfg.Crawler.Eastmoney.EndDate)
		if err != nil {
			return err
		}
		stats, err := runEastmoney(cmd.Context(), from, to)
		if stats == nil {
			return err
		}
		if printErr := printResult(cmd, stats, func() { fmt.Println(stats.Summary("eastmoney")) }); printErr != nil {
			return printErr
		}
		return err
	},
}

func runEastmoney(ctx context.Context, from, to string) (*crawler.RunStats, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	resolver, err := loadResolver()
	if err != nil {
		return nil, err
	}
	fetcher, rng := newFetcher()
	c := crawler.NewEastmoneyCrawler(cfg.Crawler.Eastmoney, fetcher, st, resolver, rng, logger)

	stats, err := c.Run(ctx, from, to)
	if stats != nil {
		summary := fmt.Sprintf("[%s..%s] %s", from, to, stats.Summary("eastmoney"))
		if err != nil {
			summary += "; error: " + err.Error()
		}
		notifyDone(context.WithoutCancel(ctx), summary)
	}
	return stats, err
}

var crawlSinaCmd = &cobra.Command{
	Use:   "sina",
	Short: "Crawl Sina company reports into month CSV files",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := crawlRange(cmd, cfg.Crawler.Sina.StartDate, cfg.Crawler.Sina.EndDate)
		if err != nil {
			return err
		}
		resolver, err := loadResolver()
		if err != nil {
			return err
		}
		fetcher, rng := newFetcher()
		c := crawler.NewSinaCrawler(cfg.Crawler.Sina, fetcher, resolver, rng, logger)

		stats, err := c.Run(cmd.Context(), from, to)
		if stats == nil {
			return err
		}
		notifyDone(context.WithoutCancel(cmd.Context()), fmt.Sprintf("[%s..%s] %s", from, to, stats.Summary("sina")))
		if printErr := printResult(cmd, stats, func() { fmt.Println(stats.Summary("sina")) }); printErr != nil {
			return printErr
		}
		return err
	},
}

func init() {
	addRangeFlags(crawlEastmoneyCmd)
	addRangeFlags(crawlSinaCmd)
	crawlCmd.AddCommand(crawlEastmoneyCmd)
	crawlCmd.AddCommand(crawlSinaCmd)
}

// --- Schedule Command ---

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the Eastmoney crawl for the previous working day on a cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		loc := utils.CST
		if cfg.Schedule.Timezone != "" {
			l, err := time.LoadLocation(cfg.Schedule.Timezone)
			if err != nil {
				return fmt.Errorf("load schedule timezone: %w", err)
			}
			loc = l
		}

		ctx := cmd.Context()
		c := cron.New(cron.WithLocation(loc))
		_, err := c.AddFunc(cfg.Schedule.Eastmoney, func() {
			day := utils.FormatDateCST(utils.PrevWorkingDay(utils.NowCST()))
			logger.Info("scheduled crawl started", zap.String("date", day))
			if _, err := runEastmoney(ctx, day, day); err != nil {
				logger.Error("scheduled crawl failed", zap.String("date", day), zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule.Eastmoney, err)
		}

		c.Start()
		logger.Info("scheduler started", zap.String("cron", cfg.Schedule.Eastmoney), zap.String("timezone", loc.String()))
		<-ctx.Done()
		<-c.Stop().Done()
		logger.Info("scheduler stopped")
		return nil
	},
}
