// Command reflex is the self-reflexive development orchestrator: it mines
// its own operation ledger for failure patterns, deliberates over them
// with a multi-provider runner, and feeds improvements back into its
// prompt library and roadmap.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/antigravity-dev/reflex/internal/approval"
	"github.com/antigravity-dev/reflex/internal/config"
	"github.com/antigravity-dev/reflex/internal/cost"
	"github.com/antigravity-dev/reflex/internal/deliberate"
	"github.com/antigravity-dev/reflex/internal/health"
	"github.com/antigravity-dev/reflex/internal/host"
	"github.com/antigravity-dev/reflex/internal/learning"
	"github.com/antigravity-dev/reflex/internal/metrics"
	"github.com/antigravity-dev/reflex/internal/patterns"
	"github.com/antigravity-dev/reflex/internal/prompts"
	"github.com/antigravity-dev/reflex/internal/ratelimit"
	"github.com/antigravity-dev/reflex/internal/roadmap"
	"github.com/antigravity-dev/reflex/internal/rollback"
	"github.com/antigravity-dev/reflex/internal/runner"
	"github.com/antigravity-dev/reflex/internal/safety"
	"github.com/antigravity-dev/reflex/internal/schedule"
	"github.com/antigravity-dev/reflex/internal/store"
)

const (
	exitOK            = 0
	exitError         = 1
	exitConfig        = 2
	exitSafetyBlocked = 3
)

const usage = `usage: reflex [-config path] [-dev] <command> [args]

commands:
  run                    start the orchestrator loop
  learn                  run one learning cycle
  roadmap [--force]      run one roadmap cycle if due
  report [--format md|json] [--days N]
  dashboard              print health, schedule, and spend status
  approve <request-id>   approve a pending operation
  deny <request-id>      deny a pending operation
  rollback <tag> [--yes] revert to a rollback point
`

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("reflex", flag.ContinueOnError)
	configPath := fs.String("config", "reflex.toml", "path to config file")
	dev := fs.Bool("dev", false, "use text log format (default is JSON)")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return exitConfig
	}
	command, cmdArgs := rest[0], rest[1:]

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && command != "run" {
			cfg = config.Default()
		} else {
			fmt.Fprintf(os.Stderr, "reflex: %v\n", err)
			return exitConfig
		}
	}

	logger := configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	app := &app{cfg: cfg, logger: logger}
	defer app.close()

	switch command {
	case "run":
		return app.cmdRun()
	case "learn":
		return app.cmdLearn()
	case "roadmap":
		return app.cmdRoadmap(cmdArgs)
	case "report":
		return app.cmdReport(cmdArgs)
	case "dashboard":
		return app.cmdDashboard()
	case "approve":
		return app.cmdDecide(cmdArgs, true)
	case "deny":
		return app.cmdDecide(cmdArgs, false)
	case "rollback":
		return app.cmdRollback(cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "reflex: unknown command %q\n", command)
		fs.Usage()
		return exitConfig
	}
}

// app carries lazily built components shared across subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	st     *store.Store
}

func (a *app) close() {
	if a.st != nil {
		a.st.Close()
	}
}

func (a *app) store() (*store.Store, error) {
	if a.st != nil {
		return a.st, nil
	}
	path := config.ExpandHome(a.cfg.General.StateDB)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	a.st = st
	return st, nil
}

func (a *app) stateDir() string {
	return filepath.Dir(config.ExpandHome(a.cfg.General.StateDB))
}

func (a *app) decisionsDir() string {
	return filepath.Join(a.stateDir(), "approvals")
}

func (a *app) newRunner() (*runner.Adapter, error) {
	var backend runner.Backend
	switch a.cfg.Runner.Backend {
	case "docker":
		b, err := runner.NewDocker(a.cfg.Runner.DockerImage)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		backend = runner.NewSubprocess(a.cfg.Runner.Binary)
	}
	return runner.New(backend, a.cfg.Runner.Providers, a.logger.With("component", "runner")), nil
}

func (a *app) newHost() host.Host {
	return host.NewGitHub(a.cfg.Host.Bin, a.cfg.Host.Repo,
		config.ExpandHome(a.cfg.General.Workspace), a.logger.With("component", "host"))
}

// newSafety builds the guard and, when multi-agent risk is on and a runner
// is available, the assessor pair. The assessor is also returned on its own
// for the approval workflow.
func (a *app) newSafety() (*safety.Manager, *safety.Assessor) {
	logger := a.logger.With("component", "safety")
	guard := safety.NewGuard(a.cfg.Safety.ProtectedPatterns, a.cfg.Safety.MaxComplexity, logger)

	var assessor *safety.Assessor
	var breaking *safety.BreakingDetector
	if a.cfg.Safety.MultiAgentRisk {
		if adapter, err := a.newRunner(); err == nil {
			assessor = safety.NewAssessor(adapter, a.cfg.Runner.RiskTimeout.Duration, logger)
			breaking = safety.NewBreakingDetector(adapter, a.cfg.Runner.Timeout.Duration, logger)
		} else {
			a.logger.Warn("multi-agent risk unavailable, using static rules", "error", err)
		}
	}
	return safety.NewManager(guard, assessor, breaking, a.cfg.Safety.MultiAgentRisk, logger), assessor
}

// newWorkflow builds the approval queue; notify may be nil.
func (a *app) newWorkflow(assessor *safety.Assessor, notify approval.NotifyFunc) *approval.Workflow {
	var ra approval.RiskAssessor
	if assessor != nil {
		ra = assessor
	}
	return approval.New(ra, a.cfg.Safety.AutoApproveLowRisk, notify, a.logger.With("component", "approval"))
}

// newGate arbitrates every externally-visible mutation the cycles make.
func (a *app) newGate(manager *safety.Manager, workflow *approval.Workflow) *approval.Gate {
	rb := rollback.New(config.ExpandHome(a.cfg.General.Workspace), a.newHost(),
		a.logger.With("component", "rollback"))
	timeout := time.Duration(a.cfg.Safety.ApprovalTimeoutHrs * float64(time.Hour))
	return approval.NewGate(manager, workflow, rb, a.cfg.Safety.RollbackBeforeRisky,
		timeout, a.cfg.Safety.MultiAgentRisk, a.logger.With("component", "approval"))
}

// pollDecisions applies CLI-written approval decisions until ctx ends, so
// one-shot subcommands can be unblocked by `reflex approve` too.
func (a *app) pollDecisions(ctx context.Context, workflow *approval.Workflow) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			workflow.ApplyFileDecisions(a.decisionsDir())
		}
	}
}

func (a *app) newLibrary(st *store.Store) (*prompts.Library, error) {
	lib, err := prompts.Open(config.ExpandHome(a.cfg.Prompts.LibraryPath), a.logger.With("component", "prompts"))
	if err != nil {
		return nil, err
	}
	lib.SetBackup(st)
	if repoCtx, err := st.RepositoryContext(); err == nil && repoCtx != "" {
		lib.BindRepositoryContext(repoCtx)
	}
	return lib, nil
}

func (a *app) newLearning(st *store.Store, gate *approval.Gate) (*learning.Cycle, error) {
	adapter, err := a.newRunner()
	if err != nil {
		return nil, err
	}
	lib, err := a.newLibrary(st)
	if err != nil {
		return nil, err
	}
	detector := patterns.NewDetector(st, a.cfg.Learning.MinOccurrences, a.cfg.Learning.LookbackDays,
		a.logger.With("component", "patterns"))
	engine := deliberate.New(adapter, a.cfg.Runner.Timeout.Duration, a.logger.With("component", "deliberate"))
	return learning.New(st, detector, engine, lib, gate, a.cfg.Learning.AutoApply,
		a.logger.With("component", "learning")), nil
}

func (a *app) newRoadmap(st *store.Store, h host.Host, gate *approval.Gate) (*roadmap.Cycle, error) {
	adapter, err := a.newRunner()
	if err != nil {
		return nil, err
	}
	opts := roadmap.Options{
		Workspace: config.ExpandHome(a.cfg.General.Workspace),
		MaxIssues: a.cfg.Roadmap.MaxProposals,
		BotLabel:  a.cfg.Roadmap.BotLabel,
	}
	return roadmap.New(st, adapter, h, gate, opts, a.logger.With("component", "roadmap")), nil
}

func (a *app) newScheduler() (*schedule.Scheduler, error) {
	freq, err := schedule.ParseFrequency(a.cfg.Roadmap.Frequency)
	if err != nil {
		return nil, err
	}
	return schedule.Open(config.ExpandHome(a.cfg.Roadmap.StateFile), freq, a.logger.With("component", "schedule"))
}

// cmdRun is the long-lived orchestrator loop: health monitoring, the
// learning interval, the roadmap schedule, and approval decisions.
func (a *app) cmdRun() int {
	lockFile, err := health.AcquireLock(filepath.Join(a.stateDir(), "reflex.lock"))
	if err != nil {
		a.logger.Error("lock not acquired", "error", err)
		return exitError
	}
	defer lockFile.Close()

	st, err := a.store()
	if err != nil {
		a.logger.Error("store unavailable", "error", err)
		return exitError
	}
	if stale, err := st.MarkStaleRunning(); err != nil {
		a.logger.Warn("stale operation recovery failed", "error", err)
	} else if stale > 0 {
		a.logger.Info("recovered stale operations", "count", stale)
	}

	h := a.newHost()
	manager, assessor := a.newSafety()
	workflow := a.newWorkflow(assessor, func(r *approval.Request) {
		a.logger.Info("approval requested", "request", r.ID, "operation", r.Operation, "risk", r.Risk.String())
	})
	gate := a.newGate(manager, workflow)

	learner, err := a.newLearning(st, gate)
	if err != nil {
		a.logger.Error("learning cycle unavailable", "error", err)
		return exitError
	}
	roadmapCycle, err := a.newRoadmap(st, h, gate)
	if err != nil {
		a.logger.Error("roadmap cycle unavailable", "error", err)
		return exitError
	}
	scheduler, err := a.newScheduler()
	if err != nil {
		a.logger.Error("scheduler unavailable", "error", err)
		return exitConfig
	}

	limiter := ratelimit.New(config.ExpandHome(a.cfg.RateLimit.StateFile), a.logger.With("component", "ratelimit"))
	tracker := cost.New(budgetThresholds(a.cfg.Cost.BudgetUSD),
		time.Duration(a.cfg.Cost.WindowDays)*24*time.Hour,
		func(threshold, total float64) {
			a.logger.Warn("cost threshold crossed", "threshold_usd", threshold, "total_usd", total)
			if err := st.RecordHealthEvent("cost_threshold", fmt.Sprintf("$%.2f spent of $%.2f budget", total, a.cfg.Cost.BudgetUSD)); err != nil {
				a.logger.Warn("cost event not recorded", "error", err)
			}
		}, a.logger.With("component", "cost"))

	monitor := health.NewMonitor(st, h, a.cfg.Runner.Binary, config.ExpandHome(a.cfg.General.Workspace),
		a.cfg.Health.DiskWarnPct, a.cfg.Health.MemWarnPct,
		a.logger.With("component", "health"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go monitor.Start(ctx, a.cfg.Health.CheckInterval.Duration)

	learnTicker := time.NewTicker(a.cfg.Learning.Interval.Duration)
	defer learnTicker.Stop()
	scheduleTicker := time.NewTicker(time.Hour)
	defer scheduleTicker.Stop()
	approvalTicker := time.NewTicker(10 * time.Second)
	defer approvalTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	a.logger.Info("reflex running",
		"workspace", a.cfg.General.Workspace,
		"learning_interval", a.cfg.Learning.Interval.Duration.String(),
		"roadmap_frequency", a.cfg.Roadmap.Frequency)

	for {
		select {
		case sig := <-sigCh:
			a.logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
			return exitOK

		case <-approvalTicker.C:
			workflow.ApplyFileDecisions(a.decisionsDir())
			summary := workflow.CheckPendingApprovals()
			if len(summary.ExpiringSoon) > 0 {
				a.logger.Warn("approvals expiring soon",
					"requests", strings.Join(summary.ExpiringSoon, ","), "pending", summary.Total)
			}

		case <-learnTicker.C:
			res, err := learner.Run(ctx)
			if err != nil {
				a.logger.Error("learning cycle failed", "error", err)
				continue
			}
			tracker.Record("runner", string(store.KindLearningCycle), res.TotalCost, res.TotalTokens)

		case <-scheduleTicker.C:
			if !scheduler.ShouldGenerate(false) {
				continue
			}
			a.syncHostRateLimit(ctx, h, limiter)
			if err := limiter.Acquire("github", 10); err != nil {
				a.logger.Warn("roadmap deferred, host budget exhausted", "error", err)
				continue
			}
			res, err := roadmapCycle.Run(ctx)
			if err != nil {
				a.logger.Error("roadmap cycle failed", "error", err)
				if err := scheduler.MarkFailed(err.Error()); err != nil {
					a.logger.Warn("schedule state not saved", "error", err)
				}
				continue
			}
			tracker.Record("runner", string(store.KindRoadmapCycle), res.TotalCost, res.TotalTokens)
			if err := scheduler.MarkComplete(res.CycleID, time.Now()); err != nil {
				a.logger.Warn("schedule state not saved", "error", err)
			}
		}
	}
}

func (a *app) syncHostRateLimit(ctx context.Context, h host.Host, limiter *ratelimit.Limiter) {
	rl, err := h.GetRateLimit(ctx)
	if err != nil {
		a.logger.Warn("host rate limit unavailable", "error", err)
		return
	}
	if err := limiter.Update("github", rl.Limit, rl.Remaining, rl.ResetTime); err != nil {
		a.logger.Warn("rate limit state not saved", "error", err)
	}
}

func (a *app) cmdLearn() int {
	st, err := a.store()
	if err != nil {
		a.logger.Error("store unavailable", "error", err)
		return exitError
	}
	manager, assessor := a.newSafety()
	workflow := a.newWorkflow(assessor, func(r *approval.Request) {
		fmt.Printf("approval required: reflex approve %s  (%s, risk %s)\n", r.ID, r.Operation, r.Risk)
	})
	learner, err := a.newLearning(st, a.newGate(manager, workflow))
	if err != nil {
		a.logger.Error("learning cycle unavailable", "error", err)
		return exitError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.pollDecisions(ctx, workflow)

	res, err := learner.Run(ctx)
	if err != nil {
		a.logger.Error("learning cycle failed", "error", err)
		return exitError
	}
	fmt.Printf("patterns detected: %d, analyzed: %d\nimprovements generated: %d, applied: %d\ntokens: %d, cost: $%.4f\n",
		res.PatternsDetected, res.PatternsAnalyzed,
		res.ImprovementsGenerated, res.ImprovementsApplied,
		res.TotalTokens, res.TotalCost)
	if res.ImprovementsBlocked > 0 {
		fmt.Printf("improvements blocked by safety: %d\n", res.ImprovementsBlocked)
	}
	if res.Errors > 0 {
		fmt.Printf("sub-step failures: %d\n", res.Errors)
		return exitError
	}
	return exitOK
}

func (a *app) cmdRoadmap(args []string) int {
	fs := flag.NewFlagSet("roadmap", flag.ContinueOnError)
	force := fs.Bool("force", false, "run even if the schedule says not due")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	scheduler, err := a.newScheduler()
	if err != nil {
		a.logger.Error("scheduler unavailable", "error", err)
		return exitConfig
	}
	if !scheduler.ShouldGenerate(*force) {
		status := scheduler.GetStatus()
		fmt.Printf("roadmap not due (frequency %s, next due %s); use --force to override\n",
			status.Frequency, formatDue(status.NextDue))
		return exitOK
	}

	st, err := a.store()
	if err != nil {
		a.logger.Error("store unavailable", "error", err)
		return exitError
	}
	manager, assessor := a.newSafety()
	workflow := a.newWorkflow(assessor, func(r *approval.Request) {
		fmt.Printf("approval required: reflex approve %s  (%s, risk %s)\n", r.ID, r.Operation, r.Risk)
	})
	cycle, err := a.newRoadmap(st, a.newHost(), a.newGate(manager, workflow))
	if err != nil {
		a.logger.Error("roadmap cycle unavailable", "error", err)
		return exitError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.pollDecisions(ctx, workflow)

	res, err := cycle.Run(ctx)
	if err != nil {
		a.logger.Error("roadmap cycle failed", "error", err)
		if err := scheduler.MarkFailed(err.Error()); err != nil {
			a.logger.Warn("schedule state not saved", "error", err)
		}
		return exitError
	}
	if err := scheduler.MarkComplete(res.CycleID, time.Now()); err != nil {
		a.logger.Warn("schedule state not saved", "error", err)
	}

	fmt.Printf("cycle %s: %d proposals, %d approved, %d issues created\n",
		res.CycleID, res.ProposalsGenerated, res.ProposalsApproved, len(res.IssuesCreated))
	if res.IssuesBlocked > 0 {
		fmt.Printf("issues blocked by safety: %d\n", res.IssuesBlocked)
	}
	for _, phase := range res.Phases {
		fmt.Printf("  %s: %s\n", phase.Name, strings.Join(phase.ProposalIDs, ", "))
	}
	return exitOK
}

func (a *app) cmdReport(args []string) int {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	format := fs.String("format", "md", "output format: md or json")
	days := fs.Int("days", 30, "window in days")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	if *format != "md" && *format != "json" {
		fmt.Fprintf(os.Stderr, "reflex: unknown report format %q\n", *format)
		return exitConfig
	}

	st, err := a.store()
	if err != nil {
		a.logger.Error("store unavailable", "error", err)
		return exitError
	}
	report, err := metrics.NewInsights(metrics.New(st)).BuildReport(*days)
	if err != nil {
		a.logger.Error("report build failed", "error", err)
		return exitError
	}

	text, err := renderReport(report, *format)
	if err != nil {
		a.logger.Error("report render failed", "error", err)
		return exitError
	}
	fmt.Print(text)
	return exitOK
}

func (a *app) cmdDashboard() int {
	st, err := a.store()
	if err != nil {
		a.logger.Error("store unavailable", "error", err)
		return exitError
	}

	monitor := health.NewMonitor(st, a.newHost(), a.cfg.Runner.Binary,
		config.ExpandHome(a.cfg.General.Workspace),
		a.cfg.Health.DiskWarnPct, a.cfg.Health.MemWarnPct,
		a.logger.With("component", "health"))
	probe := monitor.Probe(context.Background())

	fmt.Printf("health: %s\n", probe.Overall)
	for _, c := range probe.Checks {
		fmt.Printf("  %-8s %-10s %s\n", c.Name, c.Status, c.Detail)
	}

	if scheduler, err := a.newScheduler(); err == nil {
		status := scheduler.GetStatus()
		fmt.Printf("\nroadmap schedule: %s, %d cycles, next due %s\n",
			status.Frequency, status.GenerationCount, formatDue(status.NextDue))
		if status.LastFailure != "" {
			fmt.Printf("  last failure: %s\n", status.LastFailure)
		}
	}

	analytics := metrics.New(st)
	if rate, err := analytics.SuccessRate("", 7); err == nil {
		fmt.Printf("\nlast 7 days success rate: %.0f%%\n", rate*100)
	}
	if costs, err := analytics.CostAnalysis(7); err == nil && costs != nil {
		fmt.Printf("last 7 days spend: $%.2f (%d tokens)\n", costs.TotalCostUSD, costs.TotalTokens)
	}
	return exitOK
}

func (a *app) cmdDecide(args []string, approved bool) int {
	verb := "deny"
	if approved {
		verb = "approve"
	}
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: reflex %s <request-id>\n", verb)
		return exitConfig
	}

	decidedBy := os.Getenv("USER")
	if decidedBy == "" {
		decidedBy = "operator"
	}
	if err := approval.WriteDecision(a.decisionsDir(), args[0], approved, decidedBy, "decided via CLI"); err != nil {
		a.logger.Error("decision not recorded", "error", err)
		return exitError
	}
	fmt.Printf("%s recorded for %s; the running orchestrator applies it within seconds\n", verb, args[0])
	return exitOK
}

func (a *app) cmdRollback(args []string) int {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "confirm the rollback")
	hard := fs.Bool("hard", false, "hard reset instead of creating a revert commit")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	if fs.NArg() != 1 {
		fmt.Fprint(os.Stderr, "usage: reflex rollback <tag> [--yes] [--hard]\n")
		return exitConfig
	}
	tag := fs.Arg(0)

	workspace := config.ExpandHome(a.cfg.General.Workspace)
	mgr := rollback.New(workspace, a.newHost(), a.logger.With("component", "rollback"))
	ctx := context.Background()

	points, err := mgr.ListRollbackPoints(ctx)
	if err != nil {
		a.logger.Error("rollback points unavailable", "error", err)
		return exitError
	}
	var target *rollback.Point
	for i := range points {
		if points[i].TagName == tag {
			target = &points[i]
			break
		}
	}
	if target == nil {
		fmt.Fprintf(os.Stderr, "reflex: no rollback point tagged %q\n", tag)
		return exitError
	}

	if code := a.checkRollbackSafety(ctx, workspace, target, tag, *yes); code != exitOK {
		return code
	}

	res, err := mgr.Rollback(ctx, target, false, !*hard)
	if err != nil {
		a.logger.Error("rollback failed", "tag", tag, "error", err)
		return exitError
	}
	fmt.Printf("rollback complete (%s): %s\n", res.Method, res.Detail)
	return exitOK
}

// checkRollbackSafety runs the files a rollback would touch through the
// safety manager. CRITICAL blocks outright; anything needing approval is
// satisfied by the --yes confirmation.
func (a *app) checkRollbackSafety(ctx context.Context, workspace string, target *rollback.Point, tag string, confirmed bool) int {
	changed, deleted, err := rollbackImpact(ctx, workspace, target.CommitSHA)
	if err != nil {
		a.logger.Warn("rollback impact not computed, assuming approval needed", "error", err)
		if !confirmed {
			fmt.Fprintf(os.Stderr, "rollback to %s requires confirmation; re-run with --yes\n", tag)
			return exitSafetyBlocked
		}
		return exitOK
	}

	manager, _ := a.newSafety()
	check := manager.CheckOperationSafety(ctx, changed, deleted, "",
		map[string]string{"operation": "rollback", "tag": tag})
	if !check.Allowed && !check.RequiresApproval {
		fmt.Fprintf(os.Stderr, "rollback to %s refused: %s (risk %s)\n", tag, check.Message, check.Risk)
		return exitSafetyBlocked
	}
	if check.RequiresApproval && !confirmed {
		fmt.Fprintf(os.Stderr, "rollback to %s %s; re-run with --yes to confirm\n", tag, check.Message)
		return exitSafetyBlocked
	}
	return exitOK
}

// rollbackImpact lists the files a rollback to sha would change or delete.
func rollbackImpact(ctx context.Context, workspace, sha string) (changed, deleted []string, err error) {
	gitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(gitCtx, "git", "diff", "--name-status", "HEAD", sha)
	cmd.Dir = workspace
	out, err := cmd.Output()
	if err != nil {
		return nil, nil, fmt.Errorf("git diff --name-status: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[len(fields)-1]
		if strings.HasPrefix(fields[0], "D") {
			deleted = append(deleted, name)
		} else {
			changed = append(changed, name)
		}
	}
	return changed, deleted, nil
}

// budgetThresholds warns at 50% and 80% and again at the full budget.
func budgetThresholds(budget float64) []float64 {
	if budget <= 0 {
		return nil
	}
	return []float64{budget * 0.5, budget * 0.8, budget}
}

func formatDue(t time.Time) string {
	if t.IsZero() {
		return "manual only"
	}
	return t.Format(time.RFC3339)
}
