package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/PentesterFlow/ReconCrawler/internal/auth"
	"github.com/PentesterFlow/ReconCrawler/internal/progress"
	"github.com/PentesterFlow/ReconCrawler/internal/state"
	"github.com/PentesterFlow/ReconCrawler/internal/visitor"
	"github.com/PentesterFlow/ReconCrawler/pkg/crawler"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	verbose    bool
	debug      bool
	stateDir   string
	backend    string

	// Crawl flags
	maxPages        int
	maxDepth        int
	threads         int
	timeout         int
	settleMode      string
	settleWait      time.Duration
	rateLimit       float64
	outputFile      string
	compact         bool
	stream          bool
	subdomains      bool
	excludePatterns []string
	formValues      []string
	noForms         bool
	noSubmit        bool
	noSynthetic     bool
	noState         bool
	noHeadless      bool
	chromePath      string
	showProgress    bool

	// Auth flags
	authType    string
	loginURL    string
	username    string
	password    string
	token       string
	authHeaders []string
	authCookies []string
)

var (
	colorOK    = color.New(color.FgGreen).SprintFunc()
	colorInfo  = color.New(color.FgCyan).SprintFunc()
	colorWarn  = color.New(color.FgYellow).SprintFunc()
	colorTitle = color.New(color.FgHiWhite, color.Bold).SprintFunc()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reconcrawler",
		Short: "ReconCrawler - headless browser reconnaissance crawler",
		Long: `ReconCrawler - A headless browser crawler for web reconnaissance.

Renders every page in Chrome, captures the network traffic it causes, fills
and submits forms, detects single-page applications and mines scripts for
endpoints, secrets and technologies. Interrupted crawls are snapshotted and
can be resumed.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	crawlCmd := &cobra.Command{
		Use:   "crawl [target]",
		Short: "Crawl a target URL",
		Long:  "Crawl a target URL, resuming from its snapshot when one exists.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCrawl,
	}

	resumeCmd := &cobra.Command{
		Use:   "resume [target]",
		Short: "Resume an interrupted crawl",
		Long:  "Resume a previously interrupted crawl from its saved snapshot.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runResume,
	}

	statusCmd := &cobra.Command{
		Use:   "status [target]",
		Short: "Show the saved snapshot for a target",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}

	clearCmd := &cobra.Command{
		Use:   "clear [target]",
		Short: "Delete the saved snapshot for a target",
		Args:  cobra.ExactArgs(1),
		RunE:  runClear,
	}

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	pf.BoolVar(&debug, "debug", false, "Debug mode")
	pf.StringVar(&stateDir, "state-dir", "", "Snapshot directory (default .reconcrawler)")
	pf.StringVar(&backend, "state-backend", "", "Snapshot backend (file, bolt, memory)")

	// Crawl flags, shared with resume
	for _, cmd := range []*cobra.Command{crawlCmd, resumeCmd} {
		f := cmd.Flags()
		f.IntVarP(&maxPages, "max-pages", "m", 100, "Maximum pages to visit")
		f.IntVarP(&maxDepth, "max-depth", "d", 3, "Maximum link depth")
		f.IntVarP(&threads, "threads", "n", 4, "Pages processed concurrently")
		f.IntVarP(&timeout, "timeout", "t", 30, "Navigation timeout in seconds")
		f.StringVar(&settleMode, "settle", "", "Settle mode after load (idle, delay)")
		f.DurationVar(&settleWait, "settle-wait", 0, "Settle delay or idle timeout")
		f.Float64VarP(&rateLimit, "rate-limit", "r", 10, "Navigations per second (0 = unlimited)")
		f.StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
		f.BoolVar(&compact, "compact", false, "Compact JSON output")
		f.BoolVar(&stream, "stream", false, "Stream pages and endpoints as JSON lines")
		f.BoolVar(&subdomains, "subdomains", false, "Include subdomains of the target host")
		f.StringArrayVar(&excludePatterns, "exclude", nil, "URL patterns to exclude (regex)")
		f.StringArrayVar(&formValues, "form-value", nil, "Form value as name=value (repeatable)")
		f.BoolVar(&noForms, "no-forms", false, "Disable form filling")
		f.BoolVar(&noSubmit, "no-submit", false, "Fill forms without submitting them")
		f.BoolVar(&noSynthetic, "no-synthetic", false, "Disable generated form values")
		f.BoolVar(&noHeadless, "no-headless", false, "Show the browser window")
		f.StringVar(&chromePath, "chrome", "", "Chrome executable path")
		f.BoolVar(&showProgress, "progress", true, "Show progress bar during crawling")

		f.StringVar(&authType, "auth-type", "", "Authentication type (none, session, jwt, basic, apikey, form)")
		f.StringVar(&loginURL, "login-url", "", "Login URL for form authentication")
		f.StringVarP(&username, "username", "u", "", "Username for authentication")
		f.StringVarP(&password, "password", "p", "", "Password for authentication")
		f.StringVar(&token, "token", "", "JWT or bearer token")
		f.StringArrayVarP(&authHeaders, "header", "H", nil, "Header sent with every request as 'Name: value' (repeatable)")
		f.StringArrayVar(&authCookies, "cookie", nil, "Session cookie as name=value (repeatable)")
	}
	crawlCmd.Flags().BoolVar(&noState, "no-state", false, "Disable snapshots")

	rootCmd.AddCommand(crawlCmd, resumeCmd, statusCmd, clearCmd)
	return rootCmd
}

func runCrawl(cmd *cobra.Command, args []string) error {
	config, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if noState {
		config.State.Enabled = false
	}
	return crawl(config)
}

func runResume(cmd *cobra.Command, args []string) error {
	config, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	config.State.Enabled = true

	st, err := inspect(config.Target, config.State)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("no snapshot found for %s", config.Target)
	}
	if st.Completed {
		return fmt.Errorf("snapshot for %s is already complete", config.Target)
	}

	sum := st.Summarize()
	fmt.Fprintf(os.Stderr, "%s crawl %s: %d visited, %d pending\n",
		colorInfo("Resuming"), sum.CrawlID, sum.Visited, sum.Pending)
	return crawl(config)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := stateConfig()
	st, err := inspect(args[0], cfg)
	if err != nil {
		return err
	}
	if st == nil {
		fmt.Printf("No snapshot for %s in %s\n", args[0], cfg.Dir)
		return nil
	}
	printStatus(st.Summarize())
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	cfg := stateConfig()
	store, err := state.OpenStore(cfg.Backend, cfg.Dir)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	if err := state.Clear(store, args[0]); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	fmt.Printf("%s snapshot for %s\n", colorOK("Cleared"), args[0])
	return nil
}

// buildConfig loads the config file, when given, and applies the flags
// that were set on top of it.
func buildConfig(cmd *cobra.Command, args []string) (*crawler.Config, error) {
	config := crawler.DefaultConfig()
	if configFile != "" {
		fileConfig, err := crawler.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	}

	if len(args) > 0 {
		config.Target = args[0]
	}
	if config.Target == "" {
		return nil, fmt.Errorf("a target URL is required")
	}

	flags := cmd.Flags()
	if flags.Changed("max-pages") {
		config.MaxPages = maxPages
	}
	if flags.Changed("max-depth") {
		config.MaxDepth = maxDepth
	}
	if flags.Changed("threads") {
		config.Threads = threads
	}
	if flags.Changed("timeout") {
		config.Timeout = time.Duration(timeout) * time.Second
	}
	if flags.Changed("settle") {
		config.Settle.Mode = visitor.SettleMode(settleMode)
	}
	if flags.Changed("settle-wait") {
		if config.Settle.Mode == visitor.SettleDelay {
			config.Settle.Delay = settleWait
		} else {
			config.Settle.IdleTimeout = settleWait
		}
	}
	if flags.Changed("rate-limit") {
		config.RateLimit.RequestsPerSecond = rateLimit
	}
	if flags.Changed("output") {
		config.Output.File = outputFile
	}
	if compact {
		config.Output.Pretty = false
	}
	if stream {
		config.Output.Stream = true
	}
	if subdomains {
		config.Scope.IncludeSubdomains = true
	}
	config.Scope.ExcludePatterns = append(config.Scope.ExcludePatterns, excludePatterns...)

	if len(formValues) > 0 && config.Forms.CustomValues == nil {
		config.Forms.CustomValues = make(map[string]string, len(formValues))
	}
	for _, kv := range formValues {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --form-value %q, want name=value", kv)
		}
		config.Forms.CustomValues[strings.ToLower(name)] = value
	}
	if noForms {
		config.Forms.Enabled = false
	}
	if noSubmit {
		config.Forms.Submit = false
	}
	if noSynthetic {
		config.Forms.Synthetic = false
	}
	if noHeadless {
		config.Browser.Headless = false
	}
	if chromePath != "" {
		config.Browser.Path = chromePath
	}

	if err := applyAuthFlags(&config.Auth); err != nil {
		return nil, err
	}

	if stateDir != "" {
		config.State.Dir = stateDir
	}
	if backend != "" {
		config.State.Backend = state.Backend(backend)
	}

	switch {
	case debug:
		config.Log.Level = "debug"
	case verbose:
		config.Log.Level = "info"
	case showProgress:
		config.Log.Level = "warn"
	}
	return config, nil
}

// applyAuthFlags merges the auth flags into creds. Headers and cookies
// without an explicit type select apikey and session auth.
func applyAuthFlags(creds *auth.Credentials) error {
	if authType != "" {
		creds.Type = auth.Type(authType)
	}
	if loginURL != "" {
		creds.LoginURL = loginURL
	}
	if username != "" {
		creds.Username = username
	}
	if password != "" {
		creds.Password = password
	}
	if token != "" {
		creds.Token = token
	}

	for _, h := range authHeaders {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("invalid --header %q, want 'Name: value'", h)
		}
		if creds.Headers == nil {
			creds.Headers = make(map[string]string)
		}
		creds.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	for _, kv := range authCookies {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid --cookie %q, want name=value", kv)
		}
		creds.Cookies = append(creds.Cookies, auth.Cookie{Name: name, Value: value})
	}

	if creds.Type == "" {
		switch {
		case len(authHeaders) > 0:
			creds.Type = auth.TypeAPIKey
		case len(authCookies) > 0:
			creds.Type = auth.TypeSession
		}
	}
	return nil
}

// stateConfig returns the snapshot settings from the config file and the
// global flags.
func stateConfig() crawler.StateConfig {
	cfg := crawler.DefaultConfig().State
	if configFile != "" {
		if fileConfig, err := crawler.LoadFromFile(configFile); err == nil {
			cfg = fileConfig.State
		}
	}
	if stateDir != "" {
		cfg.Dir = stateDir
	}
	if backend != "" {
		cfg.Backend = state.Backend(backend)
	}
	return cfg
}

// inspect returns the snapshot for target, or nil when there is none.
func inspect(target string, cfg crawler.StateConfig) (*state.CrawlState, error) {
	store, err := state.OpenStore(cfg.Backend, cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	st, err := state.Inspect(store, target)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return st, nil
}

func crawl(config *crawler.Config) error {
	opts := []crawler.Option{crawler.WithConfig(config)}

	var display *progress.Display
	if showProgress && !verbose && !debug {
		display = progress.New(os.Stderr)
		opts = append(opts, crawler.WithProgress(display))
	}

	c, err := crawler.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create crawler: %w", err)
	}

	if display == nil {
		printBanner(config)
	}

	// SIGINT and SIGTERM stop the crawl inside Start and save a snapshot.
	result, err := c.Start(context.Background())
	if result == nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	if display != nil {
		display.PrintSummary(result.Complete)
	} else {
		printSummary(result)
	}
	if !result.Complete && config.State.Enabled {
		fmt.Fprintf(os.Stderr, "%s run `reconcrawler resume %s` to continue\n", colorWarn("Interrupted:"), config.Target)
	}
	return err
}

func printBanner(config *crawler.Config) {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, colorTitle("ReconCrawler v"+version))
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 40))
	fmt.Fprintf(os.Stderr, "Target:     %s\n", config.Target)
	fmt.Fprintf(os.Stderr, "Max Pages:  %d\n", config.MaxPages)
	fmt.Fprintf(os.Stderr, "Max Depth:  %d\n", config.MaxDepth)
	fmt.Fprintf(os.Stderr, "Threads:    %d\n", config.Threads)
	fmt.Fprintf(os.Stderr, "Rate Limit: %.0f req/s\n", config.RateLimit.RequestsPerSecond)
	fmt.Fprintln(os.Stderr)
}

func printSummary(result *crawler.Result) {
	status := colorOK("complete")
	if !result.Complete {
		status = colorWarn("interrupted")
	}

	r := result.Results
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, colorTitle("Crawl Summary"))
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 40))
	fmt.Fprintf(os.Stderr, "Crawl ID:     %s\n", result.CrawlID)
	fmt.Fprintf(os.Stderr, "Status:       %s\n", status)
	fmt.Fprintf(os.Stderr, "Duration:     %v\n", result.Duration.Round(time.Second))
	fmt.Fprintf(os.Stderr, "Pages:        %d\n", len(r.Pages))
	fmt.Fprintf(os.Stderr, "Requests:     %d\n", len(r.Requests))
	fmt.Fprintf(os.Stderr, "Endpoints:    %d\n", len(r.Endpoints))
	fmt.Fprintf(os.Stderr, "Forms:        %d\n", len(r.Forms))
	fmt.Fprintf(os.Stderr, "Secrets:      %d\n", len(r.Secrets))
	fmt.Fprintf(os.Stderr, "Technologies: %d\n", len(r.Technologies))
	fmt.Fprintln(os.Stderr)

	if n := len(r.Endpoints); n > 0 {
		fmt.Fprintln(os.Stderr, "Top Discovered Endpoints:")
		count := 10
		if n < count {
			count = n
		}
		for _, ep := range r.Endpoints[:count] {
			method := ep.Method
			if method == "" {
				method = "GET"
			}
			fmt.Fprintf(os.Stderr, "  [%s] %s\n", colorInfo(method), ep.URL)
		}
		if n > count {
			fmt.Fprintf(os.Stderr, "  ... and %d more\n", n-count)
		}
		fmt.Fprintln(os.Stderr)
	}
}

func printStatus(s state.Summary) {
	status := colorWarn("interrupted")
	if s.Completed {
		status = colorOK("complete")
	}

	fmt.Println(colorTitle("Snapshot"))
	fmt.Println(strings.Repeat("─", 40))
	fmt.Printf("Crawl ID:   %s\n", s.CrawlID)
	fmt.Printf("Target:     %s\n", s.TargetURL)
	fmt.Printf("Status:     %s\n", status)
	fmt.Printf("Started:    %s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Printf("Saved:      %s\n", s.Timestamp.Format(time.RFC3339))
	fmt.Printf("Visited:    %d\n", s.Visited)
	fmt.Printf("Pending:    %d\n", s.Pending)
	fmt.Printf("Pages:      %d\n", s.Pages)
	fmt.Printf("Requests:   %d\n", s.Requests)
	fmt.Printf("Endpoints:  %d\n", s.Endpoints)
	fmt.Printf("Secrets:    %d\n", s.Secrets)
	fmt.Printf("Forms:      %d\n", s.Forms)
}
