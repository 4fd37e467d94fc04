package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cnpj-geocoder/internal/export"
	"github.com/sells-group/cnpj-geocoder/internal/fetcher"
	"github.com/sells-group/cnpj-geocoder/internal/model"
	"github.com/sells-group/cnpj-geocoder/internal/pipeline"
)

var (
	geocodeInputs    []string
	geocodeSample    int
	geocodeSeed      int64
	geocodeWorkers   int
	geocodeOutputDir string
	geocodeFormats   []string
	geocodeName      string
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Geocode every record of one or more CNPJ extracts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		inputs := append(append([]string{}, geocodeInputs...), args...)
		records, err := fetcher.LoadRecords(ctx, inputs, loadOptions(cfg))
		if err != nil {
			return err
		}

		mode := pipeline.Mode{Sample: geocodeSample, Seed: geocodeSeed}
		total := len(records)
		if mode.Sample > 0 {
			total = mode.Sample
		}
		progress := newProgress(total)

		deps, err := newDeps(cfg)
		if err != nil {
			return err
		}
		runner := deps.runner(cfg, geocodeWorkers, progress.observe)

		formats := geocodeFormats
		if len(formats) == 0 {
			formats = cfg.Export.Formats
		}
		dir := geocodeOutputDir
		if dir == "" {
			dir = cfg.Export.Dir
		}
		// Exports still run after an interrupt, so they get a fresh context.
		exportCtx := context.WithoutCancel(ctx)
		expOpts, closeExport, err := exportOptions(exportCtx, cfg, dir, append(append([]string{}, formats...), string(export.FormatSummary)), baseName(inputs))
		if err != nil {
			return err
		}
		defer closeExport()

		rs, runErr := runner.Run(ctx, records, mode)
		progress.finish()
		if rs == nil {
			return runErr
		}
		if deps.breakers != nil {
			zap.L().Info("geocode: provider circuits", zap.Any("states", deps.breakers.States()))
		}
		if rs.Cancelled {
			zap.L().Warn("geocode: interrupted, exporting partial results",
				zap.Int("processed", len(rs.Results)),
				zap.Int("pending", rs.Pending()),
			)
		}

		written, err := export.WriteAll(exportCtx, rs, expOpts)
		if err != nil {
			return errors.Join(runErr, err)
		}
		for _, p := range written {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return runErr
	},
}

// baseName names outputs after the first input unless --name is given.
func baseName(inputs []string) string {
	if geocodeName != "" {
		return geocodeName
	}
	if len(inputs) == 0 {
		return "geocoded"
	}
	b := filepath.Base(inputs[0])
	return strings.TrimSuffix(b, filepath.Ext(b)) + "_geocoded"
}

// progress reports run progress on a terminal bar, or as periodic log lines
// when stderr is not a terminal.
type progress struct {
	bar      *progressbar.ProgressBar
	every    time.Duration
	mu       sync.Mutex
	lastLog  time.Time
	lastSeen int
	total    int
}

func newProgress(total int) *progress {
	p := &progress{total: total, every: 10 * time.Second}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Geocoding"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("records"),
			progressbar.OptionClearOnFinish(),
		)
	}
	return p
}

func (p *progress) observe(processed int, summary model.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil && processed > p.lastSeen {
		_ = p.bar.Set(processed)
	}
	if processed > p.lastSeen {
		p.lastSeen = processed
	}
	if time.Since(p.lastLog) < p.every && processed < p.total {
		return
	}
	p.lastLog = time.Now()
	zap.L().Info("geocode: progress",
		zap.Int("processed", processed),
		zap.Int("total", p.total),
		zap.Float64("success_rate", summary.SuccessRate()),
		zap.Int("full_address", summary.Count(model.MethodFullAddress, model.StatusSuccess)),
		zap.Int("postal_code", summary.Count(model.MethodPostalCode, model.StatusSuccess)),
		zap.Int("unresolved", summary.Count(model.MethodUnresolved, model.StatusFailed)),
	)
}

func (p *progress) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

func init() {
	geocodeCmd.Flags().StringSliceVarP(&geocodeInputs, "input", "i", nil, "input file (xlsx, csv, txt or zip); repeatable")
	geocodeCmd.Flags().IntVar(&geocodeSample, "sample", 0, "geocode a random sample of N records (at least 10)")
	geocodeCmd.Flags().Int64Var(&geocodeSeed, "seed", pipeline.DefaultSeed, "random seed for --sample; any value, 0 included, is used as given")
	geocodeCmd.Flags().IntVar(&geocodeWorkers, "workers", 0, "concurrent record flows (default from config)")
	geocodeCmd.Flags().StringVarP(&geocodeOutputDir, "output-dir", "o", "", "output directory (default from config)")
	geocodeCmd.Flags().StringSliceVar(&geocodeFormats, "formats", nil, "export formats: csv, geojson, shapefile, sqlite, postgres")
	geocodeCmd.Flags().StringVar(&geocodeName, "name", "", "base name for output files")
	rootCmd.AddCommand(geocodeCmd)
}
