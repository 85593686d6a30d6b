package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schaermu/helpsync/internal/config"
	"github.com/schaermu/helpsync/internal/helpcenter"
	"github.com/schaermu/helpsync/internal/markup"
	"github.com/schaermu/helpsync/internal/store"
	"github.com/schaermu/helpsync/internal/sync"
	"github.com/schaermu/helpsync/internal/translate"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string
	dryRun    bool

	// init flags
	initCompany string
	initUser    string
	initToken   string
	initRoot    string
	initForce   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "helpsync",
	Short: "Synchronize a Zendesk Help Center with a local directory tree",
	Long: `helpsync keeps categories, sections, articles and attachments of a
Zendesk Help Center in step with a local directory structure.

Articles are written in markdown. Import pulls the remote content into the
local tree, export pushes local changes back. Article bodies and attribute
files can additionally be uploaded to a WebTranslateIt project.`,
	SilenceUsage: true,
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Download the help center into the content directory",
	Long: `Import walks every category, section, article and attachment of the help
center and writes them to the content directory. Imported articles are not
synced until their attributes file sets synced: true.`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Push local changes to the help center",
	Long: `Export creates categories, sections and articles that have no remote id yet
and updates those whose attributes, body or attachments changed since the
last run. Remote ids and the confirmed state are written back to the
.meta files next to the content.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Upload new content to the translation project",
	Args:  cobra.NoArgs,
	RunE:  runTranslate,
}

var removeCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Delete a category, section or article remotely and locally",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var moveCmd = &cobra.Command{
	Use:   "move <source> <destination>",
	Short: "Move an article to another section or a section to another category",
	Args:  cobra.ExactArgs(2),
	RunE:  runMove,
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Create missing attributes files in the content directory",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("helpsync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/helpsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file with HELPSYNC_* variables loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	exportCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	initCmd.Flags().StringVar(&initCompany, "company", "", "help center host, e.g. acme.zendesk.com")
	initCmd.Flags().StringVar(&initUser, "user", "", "agent email used for API token auth")
	initCmd.Flags().StringVar(&initToken, "token", "", "API token")
	initCmd.Flags().StringVar(&initRoot, "root", "", "content directory (default is the current directory)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// app bundles the dependencies every command shares
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
}

func setup() (*app, error) {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.NewStore(store.NewOS(cfg.Content.Root), cfg.Content.AttributesFormat, logger)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, store: st}, nil
}

func (a *app) helpCenter(ctx context.Context) (*helpcenter.HTTPClient, error) {
	return helpcenter.NewHTTPClient(ctx, helpcenter.Options{
		Company:    a.cfg.Zendesk.Company,
		PublicURI:  a.cfg.Zendesk.PublicURI,
		Locale:     a.cfg.Zendesk.Locale,
		User:       a.cfg.Zendesk.User,
		Password:   a.cfg.Zendesk.Password,
		Token:      a.cfg.Zendesk.Token,
		OAuthToken: a.cfg.Zendesk.OAuthToken,
		BaseURL:    a.cfg.Zendesk.BaseURL,
		PublicURL:  a.cfg.Zendesk.PublicURL,
	}, a.logger)
}

// translator returns nil when no translation project is configured
func (a *app) translator() *translate.Translator {
	if !a.cfg.TranslationEnabled() {
		return nil
	}
	client := translate.NewHTTPClient(a.cfg.Translate.BaseURL, a.cfg.Translate.APIKey, a.cfg.Translate.Locale, a.logger)
	return translate.NewTranslator(client, a.store, a.logger)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := setup()
	if err != nil {
		return err
	}
	client, err := a.helpCenter(ctx)
	if err != nil {
		return err
	}

	a.logger.Info("starting import", "company", a.cfg.Zendesk.Company, "root", a.cfg.Content.Root)
	tree, err := sync.NewFetcher(client, markup.New(), a.logger).Fetch(ctx)
	if err != nil {
		a.logger.Error("import failed", "error", err)
		return err
	}
	if err := store.NewSaver(a.store, client).Save(ctx, tree); err != nil {
		a.logger.Error("import failed", "error", err)
		return err
	}
	a.logger.Info("import complete", "nodes", tree.Len())
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := setup()
	if err != nil {
		return err
	}
	client, err := a.helpCenter(ctx)
	if err != nil {
		return err
	}
	tree, err := store.NewLoader(a.store).Load()
	if err != nil {
		return fmt.Errorf("failed to load content: %w", err)
	}

	pusher := sync.NewPusher(client, a.store, markup.New(), a.logger, sync.PushOptions{
		DryRun:          dryRun,
		DisableComments: a.cfg.Sync.DisableComments,
		PermissionGroup: a.cfg.Sync.PermissionGroup,
	})
	report, err := pusher.Push(ctx, tree)
	if err != nil {
		a.logger.Error("export failed", "error", err)
		return err
	}
	if n := report.Count(sync.OpFail); n > 0 {
		return fmt.Errorf("%d remote calls failed, run export again to retry", n)
	}
	return nil
}

func runTranslate(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := setup()
	if err != nil {
		return err
	}
	tr := a.translator()
	if tr == nil {
		return fmt.Errorf("translate.api_key is not configured")
	}
	tree, err := store.NewLoader(a.store).Load()
	if err != nil {
		return fmt.Errorf("failed to load content: %w", err)
	}
	n, err := tr.Upload(ctx, tree)
	if err != nil {
		a.logger.Error("translation upload failed", "error", err)
		return err
	}
	a.logger.Info("translation upload complete", "uploaded", n)
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := setup()
	if err != nil {
		return err
	}
	m, err := a.maintainer(ctx)
	if err != nil {
		return err
	}
	return m.Remove(ctx, args[0])
}

func runMove(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := setup()
	if err != nil {
		return err
	}
	m, err := a.maintainer(ctx)
	if err != nil {
		return err
	}
	return m.Move(ctx, args[0], args[1])
}

func (a *app) maintainer(ctx context.Context) (*sync.Maintainer, error) {
	client, err := a.helpCenter(ctx)
	if err != nil {
		return nil, err
	}
	var docs sync.Documents
	if tr := a.translator(); tr != nil {
		docs = tr
	}
	return sync.NewMaintainer(client, docs, a.store, a.logger), nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	tree, err := store.NewLoader(a.store).Load()
	if err != nil {
		return fmt.Errorf("failed to load content: %w", err)
	}
	created, err := store.NewDoctor(a.store).Fix(tree)
	if err != nil {
		return err
	}
	a.logger.Info("doctor complete", "created", len(created))
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	if initCompany == "" {
		return fmt.Errorf("--company is required")
	}
	configPath, err := configPath()
	if err != nil {
		return err
	}
	root := initRoot
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	cfg := &config.Config{
		Zendesk: config.ZendeskConfig{
			Company: initCompany,
			User:    initUser,
			Token:   initToken,
		},
		Content: config.ContentConfig{Root: root},
	}
	if err := config.Write(configPath, cfg, initForce); err != nil {
		return err
	}
	logger.Info("configuration written", "path", configPath)
	return nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultPath()
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	if envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			return nil, err
		}
	}

	path, err := configPath()
	if err != nil {
		return nil, err
	}

	logger.Info("loading configuration", "path", path)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"company", cfg.Zendesk.Company,
		"locale", cfg.Zendesk.Locale,
		"auth", cfg.AuthMethod(),
		"root", cfg.Content.Root,
		"translation", cfg.TranslationEnabled())

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
