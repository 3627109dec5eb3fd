package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rahul/taskmesh/internal/gateway"
	"github.com/rahul/taskmesh/internal/intent"
	"github.com/rahul/taskmesh/internal/observability"
	"github.com/rahul/taskmesh/internal/reminder"
	"github.com/rahul/taskmesh/pkg/config"
)

func newServeCmd(configPath *string) *cobra.Command {
	var noDashboard bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat gateways, confirmation sweeper and reminder scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *configPath, !noDashboard)
		},
	}
	cmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "plain log output without the banner and status line")
	return cmd
}

// newModel builds the LLM for the default provider. Every supported
// provider speaks the OpenAI API.
func newModel(cfg *config.Config) (llms.Model, error) {
	name, p := cfg.GetDefaultProvider()
	switch name {
	case "":
		return nil, nil
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("provider %s is not supported", name)
	}
}

func serve(parent context.Context, configPath string, dashboard bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	dashboard = dashboard && observability.IsTerminal(os.Stdout)
	if dashboard {
		observability.PrintBanner(os.Stdout)
		observability.InitializeTerminal()
		defer observability.CleanupTerminal()
		log.SetOutput(observability.NewTermWriter())
	}

	a, err := newApp(cfg, log.Writer(), cfg.Orchestrator.AutoRun)
	if err != nil {
		return err
	}
	defer a.Close()

	model, err := newModel(cfg)
	if err != nil {
		return err
	}
	var recognizer gateway.Recognizer
	if model != nil {
		rec := intent.NewRecognizer(model, intent.NewPromptManager(cfg.App.Prompts), a.store)
		rec.HistoryLimit = cfg.Memory.HistoryLimit
		recognizer = rec
	} else {
		log.Println("[ WARN ] No enabled provider; only slash commands will work")
	}
	router := gateway.NewRouter(a.engine, recognizer)

	var gateways []gateway.Gateway
	if tgCfg, ok := cfg.GetTelegramConfig(); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, router)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		a.mux.Add(gateway.TelegramPrefix, tg)
		gateways = append(gateways, tg)
	}
	if dcCfg, ok := cfg.GetDiscordConfig(); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, router)
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		a.mux.Add(gateway.DiscordPrefix, dc)
		gateways = append(gateways, dc)
	}
	if len(gateways) == 0 {
		return fmt.Errorf("no gateway is enabled in %s", configPath)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.engine.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		reminder.NewScheduler(a.store, a.engine, cfg.Orchestrator.ReminderPoll()).Start(ctx)
	}()

	go func() {
		heartbeat := time.NewTicker(30 * time.Second)
		defer heartbeat.Stop()
		var redraw <-chan time.Time
		var d *observability.Dashboard
		if dashboard {
			t := time.NewTicker(time.Second)
			defer t.Stop()
			redraw = t.C
			d = observability.NewDashboard(a.engine)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				a.logger.LogHeartbeat(a.engine.Stats())
			case <-redraw:
				d.Print()
			}
		}
	}()

	for _, g := range gateways {
		go func(g gateway.Gateway) {
			if err := g.Start(); err != nil {
				log.Printf("\033[91m[ FAIL ] GATEWAY CRITICAL ERROR: %v\033[0m", err)
				stop()
			}
		}(g)
	}

	<-ctx.Done()
	for _, g := range gateways {
		if err := g.Stop(); err != nil {
			log.Printf("[ GATEWAY ] Stop: %v", err)
		}
	}
	wg.Wait()
	log.Println("\033[95m[ EXIT ] CORE DE-INITIALIZED. GOODBYE.\033[0m")
	return nil
}
