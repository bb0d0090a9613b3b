// Package main provides the CLI entrypoint for mathfacts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mtt87/math-facts/internal/config"
	"github.com/mtt87/math-facts/internal/drill"
	"github.com/mtt87/math-facts/internal/facts"
	"github.com/mtt87/math-facts/internal/logger"
	"github.com/mtt87/math-facts/internal/mirror"
	"github.com/mtt87/math-facts/internal/model"
	"github.com/mtt87/math-facts/internal/stats"
	"github.com/mtt87/math-facts/internal/storage"
	"github.com/mtt87/math-facts/internal/tui"
)

const (
	defaultOperation  = model.OpMultiplication
	defaultProblems   = 10
	defaultMaxOperand = 10
	defaultWeakTop    = 8
	defaultWeakFactor = 2.0
)

var (
	drillOperation  string
	drillProblems   int
	drillMaxOperand int
	drillFocusWeak  bool
	drillWeakTop    int
	drillWeakFactor float64
	drillEphemeral  bool

	clearConfirmed bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mathfacts",
		Short:         "Math and typing practice tracker",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runDrillCmd,
	}

	rootCmd.Flags().StringVar(&drillOperation, "operation", defaultOperation, "operation to practice (multiplication, addition, typing)")
	rootCmd.Flags().IntVar(&drillProblems, "problems", defaultProblems, "problems per drill")
	rootCmd.Flags().IntVar(&drillMaxOperand, "max", defaultMaxOperand, "largest operand")
	rootCmd.Flags().BoolVar(&drillFocusWeak, "focus-weak", false, "bias problems toward weak facts")
	rootCmd.Flags().IntVar(&drillWeakTop, "weak-top", defaultWeakTop, "number of weak facts to focus on")
	rootCmd.Flags().Float64Var(&drillWeakFactor, "weak-factor", defaultWeakFactor, "weight factor for weak facts")
	rootCmd.Flags().BoolVar(&drillEphemeral, "ephemeral", false, "keep data in memory, do not touch the database")

	rootCmd.AddCommand(newUserCmd())
	rootCmd.AddCommand(newPointsCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newClearCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

// openStore loads the config file and wires a store from it.
func openStore(ctx context.Context, ephemeral bool) (*facts.Store, func(), error) {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return openStoreWith(ctx, fileCfg, ephemeral)
}

// openStoreWith wires the backend, mirror, and logger into a loaded fact
// store. The returned cleanup func drains pending mirror pushes, then closes
// the backend.
func openStoreWith(ctx context.Context, fileCfg config.FileConfig, ephemeral bool) (*facts.Store, func(), error) {
	log, err := logger.New(os.Getenv("MATHFACTS_ENV"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	var backend storage.Backend
	if ephemeral {
		backend = storage.NewMemory()
	} else {
		backend, err = storage.Open(config.DefaultDBPath())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open db: %w", err)
		}
	}
	closeBackend := func() {
		if cerr := backend.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
		// Sync flushes buffered log entries; failures on stderr are expected.
		_ = log.Sync()
	}

	opts := []facts.Option{facts.WithLogger(log)}
	if fileCfg.Mirror.Endpoint != nil && *fileCfg.Mirror.Endpoint != "" {
		timeout := time.Duration(0)
		if fileCfg.Mirror.Timeout != nil {
			timeout, err = time.ParseDuration(*fileCfg.Mirror.Timeout)
			if err != nil {
				closeBackend()
				return nil, nil, fmt.Errorf("invalid mirror timeout: %w", err)
			}
		}
		opts = append(opts, facts.WithPusher(mirror.New(*fileCfg.Mirror.Endpoint, timeout)))
	}

	st := facts.New(backend, opts...)
	// Commands run and exit quickly; without the drain an in-flight push
	// would be killed when main returns.
	cleanup := func() {
		st.Drain()
		closeBackend()
	}
	if err := st.Load(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to load store: %w", err)
	}
	return st, cleanup, nil
}

func runDrillCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "operation", &drillOperation, fileCfg.Drill.Operation)
	applyIntConfig(cmd, "problems", &drillProblems, fileCfg.Drill.Problems)
	applyIntConfig(cmd, "max", &drillMaxOperand, fileCfg.Drill.MaxOperand)
	applyBoolConfig(cmd, "focus-weak", &drillFocusWeak, fileCfg.Drill.FocusWeak)
	applyIntConfig(cmd, "weak-top", &drillWeakTop, fileCfg.Drill.WeakTop)
	applyFloatConfig(cmd, "weak-factor", &drillWeakFactor, fileCfg.Drill.WeakFactor)

	cfg := model.DrillConfig{
		Operation:  drillOperation,
		Problems:   drillProblems,
		MaxOperand: drillMaxOperand,
		FocusWeak:  drillFocusWeak,
		WeakTop:    drillWeakTop,
		WeakFactor: drillWeakFactor,
	}
	if err := validateDrillConfig(cfg); err != nil {
		return err
	}

	ctx := context.Background()
	st, cleanup, err := openStoreWith(ctx, fileCfg, drillEphemeral)
	if err != nil {
		return err
	}
	defer cleanup()

	weakSet := map[model.FactKey]struct{}{}
	if cfg.FocusWeak {
		aggs := stats.Aggregate(st.FactData()[cfg.Operation])
		weakSet = stats.SelectWeakFacts(aggs, cfg.WeakTop)
		if len(weakSet) == 0 {
			logErrln("no attempts recorded yet for weak-fact focus; using uniform problems")
		}
	}

	gen := drill.New()
	var problems []drill.Problem
	if len(weakSet) > 0 {
		problems = gen.GenerateWeighted(cfg.Operation, cfg.Problems, cfg.MaxOperand, weakSet, cfg.WeakFactor)
	} else {
		problems = gen.Generate(cfg.Operation, cfg.Problems, cfg.MaxOperand)
	}

	drillModel := tui.NewModel(st, cfg, problems)
	program := tea.NewProgram(drillModel, tea.WithAltScreen())
	unsubscribe := st.Subscribe(func() {
		// Notifications can fire on the update-loop goroutine; Send must not
		// block it.
		go program.Send(tui.StoreChangedMsg{})
	})
	defer unsubscribe()
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage local profiles",
	}
	userCmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Add a profile and make it active",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserAddCmd,
	})
	userCmd.AddCommand(&cobra.Command{
		Use:   "rename <name>",
		Short: "Rename the active profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserRenameCmd,
	})
	userCmd.AddCommand(&cobra.Command{
		Use:   "switch <id>",
		Short: "Switch the active profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserSwitchCmd,
	})
	userCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List profiles",
		Args:  cobra.NoArgs,
		RunE:  runUserListCmd,
	})
	return userCmd
}

func runUserAddCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	st, cleanup, err := openStore(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	user, err := st.AddUser(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Added user %q (id %d), now active\n", user.Name, user.ID)
	return err
}

func runUserRenameCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	st, cleanup, err := openStore(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := st.RenameActiveUser(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to rename user: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Renamed active user to %q\n", args[0])
	return err
}

func runUserSwitchCmd(cmd *cobra.Command, args []string) error {
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid user id %q", args[0])
	}

	ctx := context.Background()
	st, cleanup, err := openStore(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := st.SwitchActiveUser(ctx, id); err != nil {
		return fmt.Errorf("failed to switch user: %w", err)
	}
	user := st.ActiveUser()
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Active user is now %q (id %d)\n", user.Name, user.ID)
	return err
}

func runUserListCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	st, cleanup, err := openStore(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	active := st.ActiveUser()
	for _, user := range st.Users() {
		marker := " "
		if user.ID == active.ID {
			marker = "*"
		}
		name := user.Name
		if user.Deleted {
			name += " (deleted)"
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %d %s\n", marker, user.ID, name); err != nil {
			return err
		}
	}
	return nil
}

func newPointsCmd() *cobra.Command {
	pointsCmd := &cobra.Command{
		Use:   "points",
		Short: "Manage the points ledger",
	}
	pointsCmd.AddCommand(&cobra.Command{
		Use:   "add <amount>",
		Short: "Add points for the active user",
		Args:  cobra.ExactArgs(1),
		RunE:  runPointsAddCmd,
	})
	return pointsCmd
}

func runPointsAddCmd(cmd *cobra.Command, args []string) error {
	amount, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid amount %q", args[0])
	}

	ctx := context.Background()
	st, cleanup, err := openStore(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := st.AddPoints(ctx, amount); err != nil {
		return fmt.Errorf("failed to add points: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Points: %d\n", st.Points())
	return err
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show points and per-fact stats",
		Args:  cobra.NoArgs,
		RunE:  runStatsCmd,
	}
}

func runStatsCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	st, cleanup, err := openStore(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	width := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}

	out := cmd.OutOrStdout()
	if err := stats.RenderSummary(out, st.ActiveUser(), st.Points(), st.Scores(), width); err != nil {
		return err
	}
	factData := st.FactData()
	for _, operation := range model.DefaultOperations {
		if err := stats.RenderFactTable(out, operation, stats.Aggregate(factData[operation])); err != nil {
			return err
		}
	}
	return nil
}

func newClearCmd() *cobra.Command {
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Erase the active user's points, scores, and fact data",
		Args:  cobra.NoArgs,
		RunE:  runClearCmd,
	}
	clearCmd.Flags().BoolVar(&clearConfirmed, "yes", false, "confirm the erase")
	return clearCmd
}

func runClearCmd(cmd *cobra.Command, _ []string) error {
	if !clearConfirmed {
		return fmt.Errorf("refusing to erase data without --yes")
	}

	ctx := context.Background()
	st, cleanup, err := openStore(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := st.ClearData(ctx); err != nil {
		return fmt.Errorf("failed to clear data: %w", err)
	}
	user := st.ActiveUser()
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Cleared data for %q (id %d)\n", user.Name, user.ID)
	return err
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# mathfacts configuration
# Uncomment a value to enable it. CLI flags override config values.

[drill]
# operation = %q      # Operation to practice (multiplication, addition, typing)
# problems = %d                  # Problems per drill
# max = %d                       # Largest operand
# focus-weak = false             # Bias problems toward weak facts
# weak-top = %d                   # Number of weak facts to focus on
# weak-factor = %.1f              # Weight factor for weak facts

[mirror]
# endpoint = "https://example.firebaseio.com"  # Remote mirror base URL; unset disables mirroring
# timeout = "5s"                               # Push timeout
`,
		defaultOperation,
		defaultProblems,
		defaultMaxOperand,
		defaultWeakTop,
		defaultWeakFactor,
	)
}

func validateDrillConfig(cfg model.DrillConfig) error {
	switch cfg.Operation {
	case model.OpMultiplication, model.OpAddition, model.OpTyping:
	default:
		return fmt.Errorf("--operation must be multiplication, addition, or typing")
	}
	if cfg.Problems <= 0 {
		return fmt.Errorf("--problems must be > 0")
	}
	if cfg.MaxOperand <= 0 {
		return fmt.Errorf("--max must be > 0")
	}
	if cfg.WeakTop < 0 {
		return fmt.Errorf("--weak-top must be >= 0")
	}
	if cfg.WeakFactor < 0 {
		return fmt.Errorf("--weak-factor must be >= 0")
	}
	return nil
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
