package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/swapplan/swapplan/internal/balance"
	"github.com/swapplan/swapplan/internal/cache"
	"github.com/swapplan/swapplan/internal/config"
	planerr "github.com/swapplan/swapplan/internal/errors"
	"github.com/swapplan/swapplan/internal/httpx"
	"github.com/swapplan/swapplan/internal/jupiter"
	"github.com/swapplan/swapplan/internal/logging"
	"github.com/swapplan/swapplan/internal/model"
	"github.com/swapplan/swapplan/internal/out"
	"github.com/swapplan/swapplan/internal/plan"
	"github.com/swapplan/swapplan/internal/pricing"
	"github.com/swapplan/swapplan/internal/registry"
	"github.com/swapplan/swapplan/internal/schema"
	"github.com/swapplan/swapplan/internal/store"
	"github.com/swapplan/swapplan/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner        *Runner
	flags         config.GlobalFlags
	settings      config.Settings
	logger        *zap.Logger
	root          *cobra.Command
	lastCommand   string
	lastUpstreams []model.UpstreamStatus
	exitCode      int

	transport *httpx.Client
	quotes    *jupiter.Client
	solana    *balance.SolanaOracle
	prices    *pricing.Service
	planner   *plan.Planner
	cache     *cache.Store
	plans     *store.Store
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := normalizeRunError(root.Execute())
	if closeErr := state.shutdown(); closeErr != nil && state.logger != nil {
		state.logger.Warn("close stores", zap.Error(closeErr))
	}
	if state.logger != nil {
		_ = state.logger.Sync()
	}
	if err == nil {
		return state.exitCode
	}
	state.renderError("", err)
	return planerr.ExitCode(err)
}

func (s *runtimeState) shutdown() error {
	var err error
	if s.cache != nil {
		err = multierr.Append(err, s.cache.Close())
	}
	if s.plans != nil {
		err = multierr.Append(err, s.plans.Close())
	}
	return err
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Solana swap planning CLI",
		Long:  "Plans token swaps end to end: live balance check, route discovery and ranking, simulation with a value estimate, and an approval gate that stops high-value swaps short of execution.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return planerr.Wrap(planerr.KindUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())

			if s.logger == nil {
				logger, err := logging.New(settings.LogLevel)
				if err != nil {
					return planerr.Wrap(planerr.KindUsage, "configure logging", err)
				}
				s.logger = logger
			}

			if s.transport == nil {
				s.transport = httpx.New(
					httpx.WithTimeout(settings.Timeout),
					httpx.WithAttempts(settings.Attempts),
					httpx.WithBackoff(settings.BackoffBase, settings.BackoffCap),
					httpx.WithUserAgent(version.CLIName+"/"+version.CLIVersion),
					httpx.WithLogger(s.logger),
				)
				s.quotes = jupiter.New(s.transport,
					jupiter.WithBaseURLs(settings.SwapBaseURL, settings.PriceBaseURL),
					jupiter.WithAPIKey(settings.JupiterAPIKey),
					jupiter.WithLogger(s.logger),
				)
				s.solana = balance.NewSolana(s.transport,
					balance.WithSolanaRPCURL(registry.SolanaRPCURL(settings.SolanaRPCURL, settings.HeliusAPIKey)),
					balance.WithSolanaLogger(s.logger),
				)
			}

			if settings.CacheEnabled && shouldOpenCache(s.lastCommand) && s.cache == nil {
				cacheStore, err := cache.Open(settings.CachePath, settings.CacheLockPath)
				if err != nil {
					return planerr.Wrap(planerr.KindInternal, "open cache", err)
				}
				s.cache = cacheStore
			}
			if s.prices == nil {
				priceOpts := []pricing.Option{pricing.WithLogger(s.logger)}
				if s.cache != nil {
					priceOpts = append(priceOpts, pricing.WithCache(s.cache))
				}
				s.prices = pricing.New(s.quotes, priceOpts...)
			}

			if shouldOpenPlans(s.lastCommand) && s.plans == nil {
				plans, err := store.Open(settings.PlanStorePath, settings.PlanLockPath)
				if err != nil {
					return planerr.Wrap(planerr.KindInternal, "open plan store", err)
				}
				s.plans = plans
			}

			if s.planner == nil {
				s.planner = plan.New(s.solana, s.quotes, s.quotes,
					plan.WithPriceOracle(s.prices),
					plan.WithApprovalThreshold(settings.ApprovalThreshold),
					plan.WithLogger(s.logger),
				)
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return planerr.Wrap(planerr.KindUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Per-attempt upstream timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Attempts, "attempts", -1, "Total attempts per upstream request")
	cmd.PersistentFlags().IntVar(&s.flags.SlippageBps, "slippage-bps", -1, "Slippage tolerance in basis points")
	cmd.PersistentFlags().StringVar(&s.flags.Threshold, "approval-threshold", "", "Value above which a swap needs manual approval")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "Solana RPC endpoint override")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable the price cache")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(s.newPlanCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newPriceCommand())
	cmd.AddCommand(s.newBalanceCommand())
	cmd.AddCommand(s.newAssetsCommand())
	cmd.AddCommand(s.newHistoryCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = strings.Join(args, " ")
			}
			data, err := schema.Build(s.root, path)
			if err != nil {
				return planerr.Wrap(planerr.KindUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil)
		},
	}
	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) meta(commandPath string, upstreams []model.UpstreamStatus, cacheStatus model.CacheStatus) model.EnvelopeMeta {
	return model.EnvelopeMeta{
		RequestID: uuid.NewString(),
		Timestamp: s.runner.now().UTC(),
		Command:   commandPath,
		Upstreams: upstreams,
		Cache:     cacheStatus,
	}
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, upstreams []model.UpstreamStatus) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta:     s.meta(commandPath, upstreams, cacheStatus),
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	message := err.Error()
	if typed, ok := planerr.As(err); ok {
		message = typed.Message
		if typed.Cause != nil {
			message = fmt.Sprintf("%s: %v", typed.Message, typed.Cause)
		}
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Error: &model.ErrorBody{
			Code:    planerr.ExitCode(err),
			Kind:    string(planerr.KindOf(err)),
			Message: message,
		},
		Meta: s.meta(commandPath, s.lastUpstreams, cacheMetaBypass()),
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

// shouldOpenCache limits the sqlite price cache to the commands that price
// tokens; everything else leaves the file untouched.
func shouldOpenCache(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "plan", "price":
		return true
	default:
		return false
	}
}

func shouldOpenPlans(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "plan", "history list", "history show":
		return true
	default:
		return false
	}
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if planerr.IsKind(err, planerr.KindUpstreamUnavailable) {
		return "unavailable"
	}
	return "error"
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass", AgeMS: 0, Stale: false}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := planerr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return planerr.Wrap(planerr.KindUsage, "invalid command input", err)
	}
	return planerr.Wrap(planerr.KindInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
