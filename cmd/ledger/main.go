package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/luca-patrignani/quota-ledger/api"
	"github.com/luca-patrignani/quota-ledger/consensus"
	"github.com/luca-patrignani/quota-ledger/orchestrator"
	"github.com/luca-patrignani/quota-ledger/persistence"
)

const (
	modeREPL  = "repl"
	modeServe = "serve"
	modeBoth  = "both"

	defaultAddr = "localhost:9999"
	certFile    = "ledger_cert.pem"
)

type options struct {
	difficulty  int
	threshold   float64
	stateFile   string
	store       string
	badgerDir   string
	mode        string
	addr        string
	tls         bool
	sealTimeout time.Duration
	tokenSecret string
	verbose     bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("ledger", flag.ContinueOnError)
	fs.IntVar(&o.difficulty, "difficulty", orchestrator.DefaultDifficulty, "leading hex zeros required in a block hash")
	fs.Float64Var(&o.threshold, "threshold", consensus.DefaultThreshold, "fraction of nodes whose votes accept a proposal")
	fs.StringVar(&o.stateFile, "state-file", persistence.DefaultStateFile, "state file of the file store, empty disables persistence")
	fs.StringVar(&o.store, "store", "file", "state store: file or badger")
	fs.StringVar(&o.badgerDir, "badger-dir", "ledger_state", "BadgerDB directory, empty keeps the store in memory")
	fs.StringVar(&o.mode, "mode", modeREPL, "repl, serve or both")
	fs.StringVar(&o.addr, "addr", defaultAddr, "API listen address")
	fs.BoolVar(&o.tls, "tls", false, "serve the API over TLS with a self-signed certificate")
	fs.DurationVar(&o.sealTimeout, "seal-timeout", orchestrator.DefaultSealTimeout, "proof-of-work limit per block, 0 for none")
	fs.StringVar(&o.tokenSecret, "token-secret", "", "secret for node access tokens; when set the API requires them")
	fs.BoolVar(&o.verbose, "verbose", false, "log at debug level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	switch o.mode {
	case modeREPL, modeServe, modeBoth:
	default:
		return options{}, fmt.Errorf("unknown mode %q", o.mode)
	}
	if o.store != "file" && o.store != "badger" {
		return options{}, fmt.Errorf("unknown store %q", o.store)
	}
	return o, nil
}

// openStore returns nil when persistence is disabled.
func openStore(o options, logger *slog.Logger) (persistence.Store, error) {
	if o.store == "badger" {
		s, err := persistence.OpenBadgerStore(o.badgerDir, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	if o.stateFile == "" {
		return nil, nil
	}
	return persistence.NewFileStore(o.stateFile, logger), nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "usage: %s [OPTIONS]: %v\n", os.Args[0], err)
		os.Exit(2)
	}

	ptermLogger := pterm.DefaultLogger.WithLevel(pterm.LogLevelInfo)
	if o.verbose {
		ptermLogger = pterm.DefaultLogger.WithLevel(pterm.LogLevelDebug)
	}
	logger := slog.New(pterm.NewSlogHandler(ptermLogger))
	slog.SetDefault(logger)

	if err := run(o, logger); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func run(o options, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if o.mode != modeServe {
		title, err := pterm.DefaultBigText.WithLetters(
			putils.LettersFromStringWithStyle("Q", pterm.FgCyan.ToStyle()),
			putils.LettersFromStringWithStyle("uota ", pterm.FgDarkGray.ToStyle()),
			putils.LettersFromStringWithStyle("L", pterm.FgCyan.ToStyle()),
			putils.LettersFromStringWithStyle("edger", pterm.FgDarkGray.ToStyle()),
		).Srender()
		if err != nil {
			logger.Error(err.Error())
		}
		pterm.Print(title)
	}

	store, err := openStore(o, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	cfg := orchestrator.Config{
		Difficulty:  o.difficulty,
		Threshold:   o.threshold,
		SealTimeout: o.sealTimeout,
		TokenSecret: o.tokenSecret,
		Store:       store,
		Logger:      logger,
	}

	spinner, _ := pterm.DefaultSpinner.Start("Sealing the genesis block ...")
	p, err := orchestrator.New(ctx, cfg)
	if err != nil {
		spinner.Fail()
		if store != nil {
			_ = store.Close()
		}
		return err
	}
	spinner.Success()
	defer func() {
		if err := p.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	if store != nil {
		if err := reportLoad(p); err != nil {
			return fmt.Errorf("failed to load saved state, fix or move it before restarting: %w", err)
		}
	}

	switch o.mode {
	case modeServe:
		return serve(ctx, p, o, logger)
	case modeBoth:
		return runBoth(ctx,
			func(ctx context.Context) error { return serve(ctx, p, o, logger) },
			func(ctx context.Context) { repl(ctx, p) })
	default:
		repl(ctx, p)
		return nil
	}
}

// runBoth runs the API next to the REPL. A server that stops on its own ends
// the session at once; otherwise the server is stopped when the REPL returns.
func runBoth(ctx context.Context, serveFn func(context.Context) error, replFn func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- serveFn(ctx) }()
	done := make(chan struct{})
	go func() {
		replFn(ctx)
		close(done)
	}()

	select {
	case err := <-errc:
		if err == nil {
			if ctx.Err() != nil {
				return nil
			}
			err = errors.New("api server stopped")
		}
		pterm.Error.Printfln("API server failed: %v", err)
		return err
	case <-done:
	}
	cancel()
	return <-errc
}

func reportLoad(p *orchestrator.Pipeline) error {
	report, err := p.Load()
	switch {
	case err != nil:
		pterm.Error.Printfln("Could not load saved state: %v", err)
		return err
	case !report.Found:
		pterm.Info.Println("No saved state, starting fresh")
	default:
		pterm.Success.Printfln("Loaded %d nodes and %d blocks", report.Nodes, report.Blocks)
		if !report.IntegrityOK {
			pterm.Warning.Println("Saved state digest does not match its contents")
		}
		if report.ChainErr != nil {
			pterm.Warning.Printfln("Loaded chain is invalid: %v", report.ChainErr)
		}
		if report.AllocationErr != nil {
			pterm.Warning.Printfln("Loaded allocations disagree with the chain: %v", report.AllocationErr)
		}
	}
	return nil
}

func serve(ctx context.Context, p *orchestrator.Pipeline, o options, logger *slog.Logger) error {
	// Requests may wait for a full seal.
	var timeout time.Duration
	if o.sealTimeout > 0 {
		timeout = o.sealTimeout + 10*time.Second
	}
	opts := []api.ServerOption{api.WithLogger(logger), api.WithTimeout(timeout)}
	if o.tokenSecret != "" {
		opts = append(opts, api.WithTokenAuth())
	}
	if o.tls {
		cert, pem, err := api.GenerateSelfSignedCert(o.addr)
		if err != nil {
			return fmt.Errorf("failed to generate certificate: %w", err)
		}
		if err := os.WriteFile(certFile, pem, 0o644); err != nil {
			return fmt.Errorf("failed to write certificate: %w", err)
		}
		pterm.Info.Printfln("Self-signed certificate written to %s", certFile)
		opts = append(opts, api.WithCertificate(cert))
	}

	server := api.NewServer(p, o.addr, opts...)
	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}

// seals reports whether a command line proposes a block.
func seals(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToLower(fields[0]) {
	case orchestrator.ActionRequest, orchestrator.ActionRelease:
		return true
	}
	return false
}

func isExit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "exit", "quit":
		return true
	}
	return false
}

func repl(ctx context.Context, p *orchestrator.Pipeline) {
	pterm.Info.Println("Type 'help' for available commands, 'exit' to quit")
	for ctx.Err() == nil {
		line, err := pterm.DefaultInteractiveTextInput.WithDefaultText("ledger").Show()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				pterm.Error.Println(err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isExit(line) {
			return
		}

		var spinner *pterm.SpinnerPrinter
		if seals(line) {
			spinner, _ = pterm.DefaultSpinner.WithRemoveWhenDone().Start("Voting and sealing ...")
		}
		res := p.HandleCommand(ctx, line)
		if spinner != nil {
			_ = spinner.Stop()
		}
		render(res)
		pterm.Println()
	}
}
