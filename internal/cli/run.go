package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rahul/taskmesh/internal/engine"
	"github.com/rahul/taskmesh/internal/gateway"
	"github.com/rahul/taskmesh/internal/observability"
	"github.com/rahul/taskmesh/internal/plan"
)

type runOptions struct {
	intent     string
	entities   []string
	user       string
	title      string
	db         string
	approveAll bool
	verbose    bool
}

func newRunCmd(configPath *string) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Decompose one intent and run the resulting plan locally",
		Long: `Run builds a plan from --intent and --entity flags and executes it with messages printed to stderr.
Confirmations are approved inline with --approve-all; otherwise the plan stops at the first one.
The final plan is printed as JSON.`,
		Example: `  taskmesh run --intent calendar.create --entity title=Dentist --entity start=2026-11-02T15:00:00Z
  taskmesh run --intent message.send --entity recipient=alice --entity text=hi --approve-all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd, *configPath, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.intent, "intent", "i", "", "intent tag, e.g. calendar.create")
	cmd.Flags().StringArrayVarP(&opts.entities, "entity", "e", nil, "entity as key=value (repeatable)")
	cmd.Flags().StringVarP(&opts.user, "user", "u", "local", "user id; bare names are console users")
	cmd.Flags().StringVar(&opts.title, "title", "", "plan title (derived from the intent when empty)")
	cmd.Flags().StringVar(&opts.db, "db", "", "database path (overrides the config)")
	cmd.Flags().BoolVarP(&opts.approveAll, "approve-all", "y", false, "approve every confirmation")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log engine events to stderr")
	_ = cmd.MarkFlagRequired("intent")
	return cmd
}

// parseEntities turns key=value pairs into an entity map. Later keys win.
func parseEntities(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("entity %q is not key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}

func runOnce(cmd *cobra.Command, configPath string, opts *runOptions) error {
	entities, err := parseEntities(opts.entities)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if opts.db != "" {
		cfg.Memory.Path = opts.db
	}

	events := io.Discard
	if opts.verbose {
		events = cmd.ErrOrStderr()
	}
	a, err := newApp(cfg, events, false)
	if err != nil {
		return err
	}
	defer a.Close()
	a.mux.Add(gateway.ConsolePrefix, gateway.NewConsoleGateway(cmd.ErrOrStderr()))

	userID := opts.user
	if !strings.Contains(userID, ":") {
		userID = gateway.UserID(gateway.ConsolePrefix, userID)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := a.engine.Submit(ctx, engine.PlanRequest{
		Intent:   opts.intent,
		Entities: entities,
		Context:  map[string]any{"source": "cli"},
		UserID:   userID,
		Title:    opts.title,
	})
	if err != nil {
		return err
	}

	for opts.approveAll && !p.Status.IsTerminal() {
		resolved := 0
		for _, req := range a.engine.PendingConfirmations() {
			if req.PlanID != p.ID || p.Status.IsTerminal() {
				continue
			}
			if p, err = a.engine.ResolveConfirmation(ctx, req.Handle, true); err != nil {
				return err
			}
			resolved++
		}
		if resolved == 0 {
			break
		}
	}

	if err := printPlan(cmd.OutOrStdout(), p); err != nil {
		return err
	}
	if p.Status == plan.StatusFailed {
		return fmt.Errorf("plan %s failed: %s", p.ID, p.Diagnostic)
	}
	return nil
}

// printPlan writes p as JSON, indented when w is a terminal.
func printPlan(w io.Writer, p *plan.Plan) error {
	var (
		data []byte
		err  error
	)
	if f, ok := w.(*os.File); ok && observability.IsTerminal(f) {
		data, err = json.MarshalIndent(p, "", "  ")
	} else {
		data, err = json.Marshal(p)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
