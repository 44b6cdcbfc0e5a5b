package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/buckleypaul/certbench/internal/api"
	"github.com/buckleypaul/certbench/internal/app"
	"github.com/buckleypaul/certbench/internal/config"
	"github.com/buckleypaul/certbench/internal/errors"
	"github.com/buckleypaul/certbench/internal/logging"
	"github.com/buckleypaul/certbench/internal/metrics"
	"github.com/buckleypaul/certbench/internal/pages"
)

func runTUI(ctx context.Context) error {
	root, cfg, err := workspace()
	if err != nil {
		return err
	}

	// The terminal belongs to the TUI; diagnostics go to a file.
	logFile, err := logging.OpenFile(config.DataDir(root))
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := newLogger(cfg, logFile)

	var m *metrics.Metrics
	if cfg.APIAddr != "" {
		m = metrics.New()
	}
	b, err := newBench(root, cfg, logger, m)
	if err != nil {
		return err
	}

	pageMap := map[app.PageID]app.Page{
		app.DevicePage:   pages.NewDevicePage(b, b.Transport, b.ScreenshotDir()),
		app.LogcatPage:   pages.NewLogcatPage(b, cfg.UARTPort, cfg.UARTBaudRate),
		app.TestsPage:    pages.NewTestsPage(b),
		app.HistoryPage:  pages.NewHistoryPage(b.Store),
		app.SettingsPage: pages.NewSettingsPage(&cfg, root),
	}
	model := app.New(pageMap, b, &cfg, root)

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(ctx) })
	if cfg.APIAddr != "" {
		srv := api.New(b, m, logger)
		g.Go(func() error { return srv.ListenAndServe(ctx, cfg.APIAddr) })
	}

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, runErr := p.Run()
	cancel()
	if err := g.Wait(); err != nil {
		logger.Error("background shutdown", "err", err)
	}
	if errors.Is(runErr, tea.ErrProgramKilled) {
		return nil
	}
	return runErr
}
