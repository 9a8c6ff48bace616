package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/TobiSchelling/lestari/internal/auth"
	"github.com/TobiSchelling/lestari/internal/catalog"
	"github.com/TobiSchelling/lestari/internal/config"
	"github.com/TobiSchelling/lestari/internal/database"
	"github.com/TobiSchelling/lestari/internal/server"
	"github.com/TobiSchelling/lestari/internal/telemetry"
	"github.com/TobiSchelling/lestari/internal/tracking"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "lestari",
	Short:   "Engagement tracking for conservation articles",
	Long:    "lestari serves conservation articles and keeps deduplicated view counts and per-user likes.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetFlags(log.LstdFlags)

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			if verbose {
				log.SetFlags(log.LstdFlags | log.Lshortfile)
			}
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if verbose || strings.EqualFold(cfg.Logging.Level, "DEBUG") {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(articlesCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(tokenCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("lestari", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/lestari/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure feeds and the session secret variable.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Articles:")
		fmt.Printf("  Total: %d\n", stats.Articles)
		fmt.Println("\nEngagement:")
		fmt.Printf("  Views counted: %d (%d events)\n", stats.TotalViews, stats.ViewEvents)
		fmt.Printf("  Likes: %d (%d marks)\n", stats.TotalLikes, stats.LikeMarks)
		fmt.Println("\nAccess:")
		fmt.Printf("  Role assignments: %d\n", stats.UserRoles)
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		secret, err := cfg.SessionSecret()
		if err != nil {
			return err
		}

		if cfg.Telemetry.Enabled {
			provider, err := telemetry.Setup(ctx, telemetry.Config{
				ServiceName:    cfg.Telemetry.ServiceName,
				ServiceVersion: version,
				Environment:    cfg.Telemetry.Environment,
			})
			if err != nil {
				return fmt.Errorf("setting up telemetry: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := provider.Shutdown(shutdownCtx); err != nil {
					log.Printf("Telemetry shutdown: %v", err)
				}
			}()
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		tracker, err := tracking.New(db, tracking.WithDedupWindow(cfg.Tracking.DedupWindow.Std()))
		if err != nil {
			return err
		}
		resolver := auth.NewResolver(secret, cfg.Auth.Issuer, cfg.Auth.CookieName, db)

		srv, err := server.New(db, tracker, resolver)
		if err != nil {
			return err
		}

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		fmt.Printf("Starting server at http://%s\n", cfg.Addr())
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, cfg.Addr())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (overrides config)")
}

// --- articles command ---

var articlesCmd = &cobra.Command{
	Use:   "articles",
	Short: "Manage the article catalog",
}

var articlesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List articles with their counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		articles, err := db.ListArticles(cmd.Context())
		if err != nil {
			return err
		}
		if len(articles) == 0 {
			fmt.Println("No articles yet. Add one with: lestari articles add, or run: lestari import")
			return nil
		}

		for _, a := range articles {
			title := a.Title
			if len(title) > 60 {
				title = title[:60] + "..."
			}
			fmt.Printf("  %-40s %6d views %5d likes  %s\n", a.Slug, a.ViewCount, a.LikeCount, title)
		}
		return nil
	},
}

var articleBodyFile string

var articlesAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add an article to the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		title := strings.TrimSpace(args[0])
		slug := catalog.Slugify(title)
		if slug == "" {
			return fmt.Errorf("title %q has no usable characters for a slug", title)
		}

		body := ""
		if articleBodyFile != "" {
			var data []byte
			if articleBodyFile == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(articleBodyFile)
			}
			if err != nil {
				return fmt.Errorf("reading body: %w", err)
			}
			body = string(data)
		}

		id, err := db.InsertArticle(cmd.Context(), slug, title, body)
		if err != nil {
			return err
		}
		fmt.Printf("Added article [%d]: %s\n", id, slug)
		return nil
	},
}

func init() {
	articlesAddCmd.Flags().StringVarP(&articleBodyFile, "body", "b", "", "Markdown file with the article body (- for stdin)")
	articlesCmd.AddCommand(articlesListCmd)
	articlesCmd.AddCommand(articlesAddCmd)
}

// --- import command ---

var importFullText bool

var importCmd = &cobra.Command{
	Use:   "import [feed-url...]",
	Short: "Import articles from RSS/Atom feeds (defaults to configured feeds)",
	RunE: func(cmd *cobra.Command, args []string) error {
		urls := args
		if len(urls) == 0 {
			for _, f := range cfg.Catalog.Feeds {
				urls = append(urls, f.URL)
			}
		}
		if len(urls) == 0 {
			return fmt.Errorf("no feeds given and none configured")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		var fetcher *catalog.Fetcher
		if importFullText {
			fetcher = catalog.NewFetcher(15 * time.Second)
		}
		importer := catalog.NewImporter(db, fetcher)
		var total catalog.Result
		for _, u := range urls {
			res, err := importer.ImportURL(cmd.Context(), u)
			if err != nil {
				log.Printf("Failed to import feed %s: %v", u, err)
				continue
			}
			total.Found += res.Found
			total.Imported += res.Imported
			total.Duplicates += res.Duplicates
			total.Skipped += res.Skipped
		}

		fmt.Println("\nImport complete:")
		fmt.Printf("  Items found: %d\n", total.Found)
		fmt.Printf("  New articles: %d\n", total.Imported)
		fmt.Printf("  Duplicates skipped: %d\n", total.Duplicates)
		if total.Skipped > 0 {
			fmt.Printf("  Untitled items skipped: %d\n", total.Skipped)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importFullText, "full-text", false, "Extract article bodies from the linked pages")
}

// --- check / repair commands ---

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report articles whose counters disagree with their events",
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker, db, err := openTracker()
		if err != nil {
			return err
		}
		defer db.Close()

		drift, checked, err := tracker.Check(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Checked %d articles, %d drifted\n", checked, len(drift))
		for _, d := range drift {
			fmt.Printf("  %s: views %d (events %d), likes %d (marks %d)\n",
				d.Slug, d.ViewCount, d.ViewEvents, d.LikeCount, d.LikeMarks)
		}
		if len(drift) > 0 {
			return fmt.Errorf("%d articles have drifted counters; run: lestari repair", len(drift))
		}
		return nil
	},
}

var repairJSON bool

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Recompute counters from view events and like marks",
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker, db, err := openTracker()
		if err != nil {
			return err
		}
		defer db.Close()

		report, err := tracker.Repair(cmd.Context())
		if err != nil {
			return err
		}
		if repairJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		fmt.Printf("Checked %d articles, repaired %d\n", report.Checked, report.Repaired)
		return nil
	},
}

func init() {
	repairCmd.Flags().BoolVar(&repairJSON, "json", false, "Print the repair report as JSON")
}

// --- roles command ---

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Manage user roles",
}

var roleRegion string

var rolesGrantCmd = &cobra.Command{
	Use:   "grant [user-id] [role]",
	Short: "Grant a role to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		var region *string
		if roleRegion != "" {
			region = &roleRegion
		}
		if err := db.GrantRole(cmd.Context(), args[0], args[1], region); err != nil {
			return err
		}
		fmt.Printf("Granted %s to %s\n", args[1], args[0])
		return nil
	},
}

var rolesRevokeCmd = &cobra.Command{
	Use:   "revoke [user-id] [role]",
	Short: "Revoke a role from a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.RevokeRole(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Revoked %s from %s\n", args[1], args[0])
		return nil
	},
}

var rolesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List role assignments",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		roles, err := db.GetAllRoles(cmd.Context())
		if err != nil {
			return err
		}
		if len(roles) == 0 {
			fmt.Println("No roles granted. Add one with: lestari roles grant <user-id> admin")
			return nil
		}
		for _, r := range roles {
			region := "-"
			if r.Region != nil {
				region = *r.Region
			}
			fmt.Printf("  %-24s %-10s %-16s %s\n", r.UserID, r.Role, region, r.GrantedAt.Format(time.DateOnly))
		}
		return nil
	},
}

func init() {
	rolesGrantCmd.Flags().StringVar(&roleRegion, "region", "", "Region the role is scoped to")
	rolesCmd.AddCommand(rolesGrantCmd)
	rolesCmd.AddCommand(rolesRevokeCmd)
	rolesCmd.AddCommand(rolesListCmd)
}

// --- token command ---

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Issue a session token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := cfg.SessionSecret()
		if err != nil {
			return err
		}
		resolver := auth.NewResolver(secret, cfg.Auth.Issuer, cfg.Auth.CookieName, nil)
		token, err := resolver.IssueToken(args[0], cfg.Auth.TokenTTL.Std())
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func openDB() (*database.DB, error) {
	return database.Open(cfg.DatabasePath())
}

func openTracker() (*tracking.Service, *database.DB, error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	tracker, err := tracking.New(db, tracking.WithDedupWindow(cfg.Tracking.DedupWindow.Std()))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return tracker, db, nil
}
