package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"calsync/internal/config"
	"calsync/internal/google"
	"calsync/internal/ics"
	"calsync/internal/models"
	"calsync/internal/store"
	"calsync/internal/syncer"
	"calsync/internal/webhook"
	"calsync/internal/worker"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "calsync",
		Usage: "Synchronize events across multiple Google Calendar accounts.",
		Commands: []*cli.Command{
			authCommand(),
			syncCommand(),
			serveCommand(),
			calendarsCommand(),
			connectCommand(),
			seedCommand(),
			conflictsCommand(),
			resolveCommand(),
			exportCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

// app bundles everything a command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	vault  *google.TokenVault
	engine *syncer.Engine
}

func newApp() (*app, error) {
	cfg := config.FromEnv()
	logger := setupLogger(cfg.LogLevel)

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	vault, err := google.NewTokenVault(logger, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, cfg.TokenDir)
	if err != nil {
		return nil, err
	}

	provider := google.NewClient(logger, vault)
	engine := syncer.New(logger, st, provider)

	return &app{cfg: cfg, logger: logger, store: st, vault: vault, engine: engine}, nil
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate a Google account and store its token.",
		Action: func(c *cli.Context) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			a.logger.Info("Starting Google authentication flow.")

			authURL := a.vault.AuthCodeURL("state-token")
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			reader := bufio.NewReader(os.Stdin)
			fmt.Print("Enter Authorization Code: ")
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			fmt.Print("Enter a name for this account (e.g., 'personal', 'work'): ")
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)

			if _, err := a.vault.Exchange(c.Context, accountName, authCode); err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			a.logger.Info("Successfully authenticated and saved token.", "account", accountName)
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run one reconciliation pass.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "calendar", Usage: "Sync only this calendar id."},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			cals, err := a.store.Calendars.ListEnabled()
			if err != nil {
				return err
			}
			if only := c.String("calendar"); only != "" {
				cal, err := a.store.Calendars.FindByID(only)
				if err != nil {
					return err
				}
				cals = []*models.Calendar{cal}
			}
			for _, cal := range cals {
				result, err := a.engine.SyncCalendar(c.Context, cal.ID)
				if err != nil {
					a.logger.Error("Sync failed", "calendar", cal.ID, "error", err)
					continue
				}
				a.logger.Info("Sync finished", "calendar", cal.ID,
					"processed", result.Processed, "created", result.Created,
					"updated", result.Updated, "skipped", result.Skipped, "failed", result.Failed)
			}
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the sync daemon: worker pool, scheduler and webhook receiver.",
		Action: func(c *cli.Context) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			pool := worker.NewPool(a.logger, func(ctx context.Context, calendarID string) error {
				result, err := a.engine.SyncCalendar(ctx, calendarID)
				if err != nil {
					return err
				}
				a.logger.Info("Sync finished", "calendar", calendarID,
					"processed", result.Processed, "created", result.Created,
					"updated", result.Updated, "skipped", result.Skipped, "failed", result.Failed)
				return nil
			}, worker.Options{
				Workers:       a.cfg.Workers,
				RatePerSecond: a.cfg.RatePerSecond,
				MinInterval:   a.cfg.MinInterval,
			})
			pool.Start(ctx)

			scheduler := worker.NewScheduler(a.logger, pool, a.store.Calendars)
			if err := scheduler.Start(a.cfg.SyncCron); err != nil {
				return err
			}
			defer scheduler.Stop()

			server := webhook.New(a.logger, a.engine, pool, a.store.Calendars)
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("Server shutdown failed", "error", err)
				}
			}()

			a.logger.Info("Serving", "addr", a.cfg.ListenAddr)
			if err := server.Start(a.cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			pool.Wait()
			return nil
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List configured calendars.",
		Action: func(c *cli.Context) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			cals, err := a.store.Calendars.List()
			if err != nil {
				return err
			}
			for _, cal := range cals {
				enabled := "enabled"
				if !cal.SyncEnabled {
					enabled = "disabled"
				}
				fmt.Printf("%s  %s/%s  %s  %s/%s  %q\n",
					cal.ID, cal.AccountID, cal.ExternalCalendarID, enabled,
					cal.SyncDirection, cal.PrivacyMode, cal.Name)
			}
			return nil
		},
	}
}

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Declare that two calendars may exchange events.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "a", Required: true, Usage: "First calendar id."},
			&cli.StringFlag{Name: "b", Required: true, Usage: "Second calendar id."},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			conn, err := a.store.Connections.Connect(c.String("a"), c.String("b"))
			if err != nil {
				return err
			}
			a.logger.Info("Calendars connected.", "connection", conn.ID)
			return nil
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Apply a YAML file of calendars and connections.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Value: "calsync.yaml", Usage: "Seed file path."},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			seed, err := config.LoadSeedFile(c.String("file"))
			if err != nil {
				return err
			}
			if err := seed.Apply(a.store); err != nil {
				return err
			}
			a.logger.Info("Seed applied.", "calendars", len(seed.Calendars), "connections", len(seed.Connections))
			return nil
		},
	}
}

func conflictsCommand() *cli.Command {
	return &cli.Command{
		Name:  "conflicts",
		Usage: "Detect and print divergent events.",
		Action: func(c *cli.Context) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			conflicts, err := a.engine.DetectConflicts(c.Context)
			if err != nil {
				return err
			}
			if len(conflicts) == 0 {
				fmt.Println("No conflicts.")
				return nil
			}
			for _, conflict := range conflicts {
				fmt.Printf("canonical %s (%d variants):\n", conflict.CanonicalEventID, len(conflict.Variants))
				for _, v := range conflict.Variants {
					fmt.Printf("  link %s [%s] %q at %s (location %q, modified %s)\n",
						v.LinkID, v.CalendarID, v.Title, v.StartAt.Format(time.RFC3339),
						v.Location, v.LastModified.Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "Resolve a conflict by adopting one variant or applying manual fields.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "canonical", Required: true, Usage: "Canonical event id."},
			&cli.StringFlag{Name: "strategy", Required: true, Usage: "adopt_a, adopt_b or manual."},
			&cli.StringFlag{Name: "link", Usage: "Link id to adopt from (adopt_a/adopt_b)."},
			&cli.StringFlag{Name: "title", Usage: "Manual: new title."},
			&cli.StringFlag{Name: "location", Usage: "Manual: new location."},
			&cli.StringFlag{Name: "description", Usage: "Manual: new description."},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			res := syncer.Resolution{
				Strategy: c.String("strategy"),
				LinkID:   c.String("link"),
			}
			if res.Strategy == syncer.StrategyManual {
				fields := &syncer.ManualFields{}
				if c.IsSet("title") {
					v := c.String("title")
					fields.Title = &v
				}
				if c.IsSet("location") {
					v := c.String("location")
					fields.Location = &v
				}
				if c.IsSet("description") {
					v := c.String("description")
					fields.Description = &v
				}
				res.Fields = fields
			}

			if err := a.engine.ResolveConflict(c.Context, c.String("canonical"), res); err != nil {
				return err
			}
			a.logger.Info("Conflict resolved.", "canonical", c.String("canonical"), "strategy", res.Strategy)
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export all canonical events as an ICS file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Value: "calsync.ics", Usage: "Output path."},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			events, err := a.store.Canonicals.List()
			if err != nil {
				return err
			}

			f, err := os.Create(c.String("out"))
			if err != nil {
				return fmt.Errorf("unable to create output file: %w", err)
			}
			defer f.Close()

			if err := ics.Export(f, events); err != nil {
				return err
			}
			a.logger.Info("Exported canonical events.", "count", len(events), "file", c.String("out"))
			return nil
		},
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
