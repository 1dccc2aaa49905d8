package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/custody/internal/api"
	"github.com/erazemk/custody/internal/config"
	"github.com/erazemk/custody/internal/db"
	"github.com/erazemk/custody/internal/logging"
	"github.com/erazemk/custody/internal/model"
	"github.com/erazemk/custody/internal/report"
	"github.com/erazemk/custody/internal/store"
)

const usage = `Usage: custody <command> [flags]

Commands:
  init      create a new database and admin account
  serve     run the HTTP API (initializes the database on first run)
  migrate   apply pending schema migrations
  export    write the evidence register to an .xlsx file

Common flags:
  -config <path>   config file (YAML, TOML or JSON)
  -db <path>       SQLite database path (default: custody.sqlite3)
  -log <path>      also write logs to this file

Run "custody <command> -h" for command-specific flags.
Every setting can also come from CUSTODY_* environment variables.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	case "migrate":
		err = cmdMigrate(os.Args[2:])
	case "export":
		err = cmdExport(os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

// commonFlags registers the flags every command shares. Only flags the user
// actually set override configuration from the file and environment.
type commonFlags struct {
	fs         *flag.FlagSet
	configPath string
	bindings   map[string]string
}

func newFlags(name string) *commonFlags {
	c := &commonFlags{
		fs: flag.NewFlagSet(name, flag.ContinueOnError),
		bindings: map[string]string{
			"db":  "db.path",
			"log": "log.file",
		},
	}
	c.fs.StringVar(&c.configPath, "config", "", "config file path")
	c.fs.String("db", "", "SQLite database path")
	c.fs.String("log", "", "log file path")
	return c
}

// bind maps an extra string flag onto a config key.
func (c *commonFlags) bind(flagName, key, help string) {
	c.fs.String(flagName, "", help)
	c.bindings[flagName] = key
}

// load parses args, loads configuration and installs the logger.
func (c *commonFlags) load(args []string) (*config.Config, func(), error) {
	if err := c.fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if c.fs.NArg() > 0 {
		return nil, nil, fmt.Errorf("unexpected argument: %s", c.fs.Arg(0))
	}

	overrides := map[string]any{}
	c.fs.Visit(func(f *flag.Flag) {
		if key, ok := c.bindings[f.Name]; ok {
			overrides[key] = f.Value.String()
		}
	})

	cfg, err := config.Load(c.configPath, overrides)
	if err != nil {
		return nil, nil, err
	}

	closeLog, err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, closeLog, nil
}

func cmdInit(args []string) error {
	flags := newFlags("init")
	flags.bind("user", "admin.username", "admin username (default: admin)")
	cfg, closeLog, err := flags.load(args)
	if err != nil {
		return err
	}
	defer closeLog()

	if _, err := os.Stat(cfg.DB.Path); err == nil {
		return fmt.Errorf("database file %s already exists", cfg.DB.Path)
	}

	database, password, err := initDatabase(cfg.DB.Path, cfg.Admin.Username)
	if err != nil {
		return err
	}
	database.Close()

	printInitResult(cfg.DB.Path, cfg.Admin.Username, password)
	return nil
}

func cmdServe(args []string) error {
	flags := newFlags("serve")
	flags.bind("addr", "http.addr", "listen address (default: :8080)")
	flags.bind("user", "admin.username", "admin username on first run (default: admin)")
	cfg, closeLog, err := flags.load(args)
	if err != nil {
		return err
	}
	defer closeLog()

	// Check if DB exists, auto-init if not.
	if _, err := os.Stat(cfg.DB.Path); os.IsNotExist(err) {
		database, password, err := initDatabase(cfg.DB.Path, cfg.Admin.Username)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		database.Close()

		printInitResult(cfg.DB.Path, cfg.Admin.Username, password)
		fmt.Println()
	}

	database, err := db.Open(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx, database); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	slog.Info("database ready", "path", cfg.DB.Path)

	jwtSecret, err := store.JWTSecret(ctx, database, cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("loading JWT secret: %w", err)
	}

	handler := api.NewRouter(api.Options{
		DB:             database,
		JWTSecret:      jwtSecret,
		SessionTTL:     cfg.Auth.SessionTTL,
		CookieSecure:   cfg.Auth.CookieSecure,
		MetricsEnabled: cfg.Metrics.Enabled,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.HTTP.Addr, "metrics", cfg.Metrics.Enabled)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}

	slog.Info("server stopped, closing database")
	return nil
}

func cmdMigrate(args []string) error {
	flags := newFlags("migrate")
	cfg, closeLog, err := flags.load(args)
	if err != nil {
		return err
	}
	defer closeLog()

	database, err := db.Open(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx, database); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	current, latest, err := db.Version(ctx, database)
	if err != nil {
		return err
	}
	fmt.Printf("Schema version %d (latest %d)\n", current, latest)
	return nil
}

func cmdExport(args []string) error {
	flags := newFlags("export")
	out := flags.fs.String("o", "evidence.xlsx", "output file")
	caseNumber := flags.fs.String("case", "", "only items of this case number")
	status := flags.fs.String("status", "", "only items with this status")
	cfg, closeLog, err := flags.load(args)
	if err != nil {
		return err
	}
	defer closeLog()

	if *status != "" && !model.ValidItemStatus(*status) {
		return fmt.Errorf("invalid status %q", *status)
	}

	database, err := db.Open(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	items, err := store.ListEvidence(context.Background(), database, store.EvidenceFilter{
		CaseNumber: *caseNumber,
		Status:     *status,
	})
	if err != nil {
		return err
	}

	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("creating %s: %w", *out, err)
	}
	if err := report.EvidenceRegister(f, items); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", *out, err)
	}

	fmt.Printf("Exported %d evidence items to %s\n", len(items), *out)
	return nil
}

// initDatabase creates a new database, applies migrations, and creates the admin user.
func initDatabase(path, adminUsername string) (*sql.DB, string, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening database: %w", err)
	}

	fail := func(err error) (*sql.DB, string, error) {
		database.Close()
		os.Remove(path)
		return nil, "", err
	}

	ctx := context.Background()
	if err := db.Migrate(ctx, database); err != nil {
		return fail(fmt.Errorf("running migrations: %w", err))
	}

	password, err := generatePassword(16)
	if err != nil {
		return fail(fmt.Errorf("generating password: %w", err))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fail(fmt.Errorf("hashing password: %w", err))
	}

	_, err = store.CreateUser(ctx, database, &model.User{
		Username:     adminUsername,
		PasswordHash: string(hash),
		FullName:     "Administrator",
		Role:         model.RoleAdmin,
	})
	if err != nil {
		return fail(fmt.Errorf("creating admin user: %w", err))
	}

	return database, password, nil
}

// printInitResult prints the database initialization result to stdout.
func printInitResult(dbPath, username, password string) {
	fmt.Printf("Database created: %s\n", dbPath)
	fmt.Println("Schema initialized.")
	fmt.Println()
	fmt.Println("Admin account created:")
	fmt.Printf("  Username: %s\n", username)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password. It cannot be recovered.")
	fmt.Println("The admin can change it after logging in.")
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
