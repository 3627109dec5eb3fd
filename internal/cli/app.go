package cli

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/rahul/taskmesh/internal/confirm"
	"github.com/rahul/taskmesh/internal/decompose"
	"github.com/rahul/taskmesh/internal/engine"
	"github.com/rahul/taskmesh/internal/gateway"
	"github.com/rahul/taskmesh/internal/governance"
	"github.com/rahul/taskmesh/internal/observability"
	"github.com/rahul/taskmesh/internal/plan"
	"github.com/rahul/taskmesh/internal/store"
	"github.com/rahul/taskmesh/internal/tools"
	"github.com/rahul/taskmesh/pkg/config"
)

// app is the wiring shared by serve and run.
type app struct {
	cfg      *config.Config
	store    *store.Store
	mux      *gateway.Mux
	registry *tools.Registry
	engine   *engine.Engine
	logger   *observability.Logger
}

// loadConfig reads path. A missing file yields the defaults so run works
// without any setup.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		cfg = &config.Config{}
		cfg.ApplyDefaults()
		return cfg, nil
	}
	return nil, err
}

// buildPolicy turns the policy section into a policy engine on top of the
// built-in high-impact set.
func buildPolicy(pc config.PolicyConfig) (*governance.DefaultPolicyEngine, error) {
	pe := governance.NewDefaultPolicyEngine()
	apply := func(tags []string, f func(plan.ActionType)) error {
		for _, tag := range tags {
			t := plan.ActionType(tag)
			if !t.Valid() {
				return fmt.Errorf("policy: unknown action type %q", tag)
			}
			f(t)
		}
		return nil
	}
	if err := apply(pc.HighImpact, pe.RequireConfirmation); err != nil {
		return nil, err
	}
	if err := apply(pc.AutoApprove, pe.AutoApprove); err != nil {
		return nil, err
	}
	if err := apply(pc.DenyTypes, pe.DenyType); err != nil {
		return nil, err
	}
	for _, pattern := range pc.DenyArguments {
		if err := pe.DenyArguments(pattern); err != nil {
			return nil, fmt.Errorf("policy: bad deny pattern %q: %w", pattern, err)
		}
	}
	return pe, nil
}

// newApp opens the store and builds the registry and engine. Events are
// logged to events.
func newApp(cfg *config.Config, events io.Writer, autoRun bool) (*app, error) {
	db, err := store.Open(cfg.Memory.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	policy, err := buildPolicy(cfg.Policy)
	if err != nil {
		db.Close()
		return nil, err
	}

	mux := gateway.NewMux()
	registry := tools.NewRegistry()
	registry.MustRegister(plan.ActionCalendarCreate, tools.NewCalendarExecutor(db))
	registry.MustRegister(plan.ActionCalendarQuery, tools.NewCalendarExecutor(db))
	registry.MustRegister(plan.ActionCalendarDelete, tools.NewCalendarExecutor(db))
	registry.MustRegister(plan.ActionTaskCreate, tools.NewTaskExecutor(db))
	registry.MustRegister(plan.ActionMessageSend, tools.NewMessageExecutor(mux, cfg.Contacts))
	registry.MustRegister(plan.ActionSystemNotify, tools.NewNotifyExecutor(mux))

	web := tools.NewWebExecutor()
	if search, err := tools.NewDuckDuckGoSearcher(10); err != nil {
		log.Printf("[ WARN ] Web search unavailable: %v", err)
	} else {
		web.Search = search
	}
	registry.MustRegister(plan.ActionWebFetch, web)

	var mailer tools.Mailer
	if cfg.Email.Enabled {
		mailer = &tools.SMTPMailer{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		}
	}
	registry.MustRegister(plan.ActionEmailSend, tools.NewEmailExecutor(mailer))

	o := cfg.Orchestrator
	logger := observability.NewFileLogger(events, cfg.App.LogFile)
	e := engine.New(
		engine.NewPlanStore(),
		decompose.NewDecomposer(policy, o.MaxRetries, o.ActionTimeout()),
		registry,
		confirm.NewGate(o.ConfirmationTTL()),
		engine.Config{
			Concurrency:     o.Concurrency,
			RetryBackoff:    o.RetryBackoff(),
			MaxRetryBackoff: o.MaxRetryBackoff(),
			SweepInterval:   o.SweepInterval(),
			AutoRun:         autoRun,
		},
		engine.WithChannel(mux),
		engine.WithSnapshotter(db),
		engine.WithLogger(logger),
	)

	return &app{cfg: cfg, store: db, mux: mux, registry: registry, engine: e, logger: logger}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
