package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seenimoa/reportalpha/internal/etl"
	"github.com/seenimoa/reportalpha/internal/factor"
	"github.com/seenimoa/reportalpha/internal/sentiment"
	"github.com/seenimoa/reportalpha/internal/store"
	"github.com/seenimoa/reportalpha/internal/textproc"
	"github.com/seenimoa/reportalpha/pkg/models"
)

// storeQuery builds a store scan from --start/--end, falling back to the
// given defaults. Empty bounds scan everything.
func storeQuery(cmd *cobra.Command, defStart, defEnd string) store.Query {
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	if start == "" && end == "" {
		start, end = defStart, defEnd
	}
	q := store.Query{From: start, To: end}
	if src, _ := cmd.Flags().GetString("source"); src != "" {
		q.Source = models.Source(src)
	}
	return q
}

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().String("start", "", "first publish date, YYYY-MM-DD (default: unbounded)")
	cmd.Flags().String("end", "", "last publish date, YYYY-MM-DD (default: unbounded)")
}

func newNormalizer() *textproc.Normalizer {
	return textproc.New(cfg.Text.RiskLeadIns, cfg.Text.BoilerplatePrefixes)
}

// withPipeline opens the store and runs stage with an etl pipeline over it.
func withPipeline(cmd *cobra.Command, stage func(p *etl.Pipeline) (*etl.Stats, error)) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := stage(etl.New(st, newNormalizer(), cfg.Store.FlushSize, logger))
	if stats == nil {
		return err
	}
	if printErr := printResult(cmd, stats, func() {
		fmt.Printf("%s: %d read, %d written, %d skipped, %d failed\n",
			cmd.Name(), stats.Read, stats.Written, stats.Skipped, stats.Failed)
	}); printErr != nil {
		return printErr
	}
	return err
}

// --- Corpus Commands ---

var importCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "Load Sina month CSV files into the report store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Crawler.Sina.OutputDir
		if len(args) == 1 {
			dir = args[0]
		}
		return withPipeline(cmd, func(p *etl.Pipeline) (*etl.Stats, error) {
			return p.Import(cmd.Context(), dir)
		})
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Fill Eastmoney report text from the downloaded PDFs",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := storeQuery(cmd, "", "")
		return withPipeline(cmd, func(p *etl.Pipeline) (*etl.Stats, error) {
			return p.Extract(cmd.Context(), q)
		})
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Normalize report text in place",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := storeQuery(cmd, "", "")
		return withPipeline(cmd, func(p *etl.Pipeline) (*etl.Stats, error) {
			return p.Clean(cmd.Context(), q)
		})
	},
}

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split cleaned text into sentences for the processed corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := storeQuery(cmd, "", "")
		return withPipeline(cmd, func(p *etl.Pipeline) (*etl.Stats, error) {
			return p.Split(cmd.Context(), q)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{extractCmd, cleanCmd, splitCmd} {
		addQueryFlags(c)
	}
	cleanCmd.Flags().String("source", "", "restrict to one source (eastmoney, sina)")
	splitCmd.Flags().String("source", "", "restrict to one source (eastmoney, sina)")
}

// --- Score Command ---

func classifierName() string {
	if cfg.Sentiment.Endpoint == "" {
		return "lexicon (offline)"
	}
	return cfg.Sentiment.Endpoint
}

func newClassifier() sentiment.Classifier {
	if cfg.Sentiment.Endpoint == "" {
		logger.Warn("no classifier endpoint configured, using the offline lexicon")
		return sentiment.LexiconClassifier{}
	}
	return sentiment.NewHTTPClassifier(cfg.Sentiment.Endpoint, cfg.Sentiment.APIKey, cfg.Sentiment.Timeout)
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Classify sentences and write a composite score per report",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		q := storeQuery(cmd, cfg.Sentiment.StartDate, cfg.Sentiment.EndDate)
		scorer := sentiment.NewScorer(newClassifier(), st, newNormalizer(), cfg.Sentiment.MaxLength, logger)
		stats, err := scorer.Run(cmd.Context(), q)
		if stats == nil {
			return err
		}
		if printErr := printResult(cmd, stats, func() {
			fmt.Printf("score: %d reports, %d scored (%d sentences), %d already scored, %d without sentences, %d failed\n",
				stats.Reports, stats.Scored, stats.Sentences, stats.Existing, stats.Skipped, stats.Failed)
		}); printErr != nil {
			return printErr
		}
		return err
	},
}

func init() {
	addQueryFlags(scoreCmd)
}

// --- Factor Command ---

type factorResult struct {
	Stocks int    `json:"stocks"`
	Dates  int    `json:"dates"`
	Window int    `json:"window"`
	Output string `json:"output"`
	Scores string `json:"scores_output,omitempty"`
	Scored int    `json:"scored_reports"`
	Total  int    `json:"processed_reports"`
}

var factorCmd = &cobra.Command{
	Use:   "factor",
	Short: "Pivot composite scores and export the trailing weighted factor",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		window, _ := cmd.Flags().GetInt("window")
		if window <= 0 {
			window = cfg.Factor.Window
		}

		processed, err := st.Processed(cmd.Context(), storeQuery(cmd, cfg.Factor.StartDate, cfg.Factor.EndDate))
		if err != nil {
			return fmt.Errorf("load processed reports: %w", err)
		}
		scored := 0
		for _, p := range processed {
			if p.Score != nil {
				scored++
			}
		}

		m := factor.BuildMatrix(processed)
		if len(m.Codes) == 0 {
			return fmt.Errorf("no scored reports with a stock code in range; run score first")
		}
		trailing := factor.Trailing(m, window)
		if err := factor.WriteFactor(cfg.Factor.Output, trailing); err != nil {
			return err
		}
		if cfg.Factor.ScoresOutput != "" {
			if err := factor.WriteScores(cfg.Factor.ScoresOutput, m); err != nil {
				return err
			}
		}
		logger.Info("factor written",
			zap.String("path", cfg.Factor.Output), zap.Int("stocks", len(m.Codes)), zap.Int("dates", len(m.Dates)))

		res := factorResult{
			Stocks: len(m.Codes), Dates: len(m.Dates), Window: window,
			Output: cfg.Factor.Output, Scores: cfg.Factor.ScoresOutput,
			Scored: scored, Total: len(processed),
		}
		return printResult(cmd, res, func() {
			fmt.Printf("factor: %d stocks × %d dates (window %d) → %s\n", res.Stocks, res.Dates, window, res.Output)
		})
	},
}

func init() {
	addQueryFlags(factorCmd)
	factorCmd.Flags().Int("window", 0, "trailing window in date columns (default: factor.window)")
}
