package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/voxform/voxform/internal/api"
	"github.com/voxform/voxform/internal/flow"
	"github.com/voxform/voxform/internal/followup"
	"github.com/voxform/voxform/internal/genai"
	"github.com/voxform/voxform/internal/lockfile"
	"github.com/voxform/voxform/internal/models"
	"github.com/voxform/voxform/internal/script"
	"github.com/voxform/voxform/internal/speech"
	"github.com/voxform/voxform/internal/store"
	"github.com/voxform/voxform/internal/util"
	"github.com/voxform/voxform/internal/validate"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for voxform state data
	DefaultStateDir = "/var/lib/voxform"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "voxform.db"
	// DefaultScriptDir is the default directory of question script files
	DefaultScriptDir = "scripts"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	scripts, err := loadScripts(*flags.scriptDir)
	if err != nil {
		slog.Error("Failed to load question scripts", "error", err, "dir", *flags.scriptDir)
		os.Exit(1)
	}
	if len(scripts) == 0 {
		slog.Error("No question scripts found", "dir", *flags.scriptDir)
		os.Exit(1)
	}

	// GenAI is optional: without a key the deterministic rule validator
	// runs and follow-ups are disabled.
	var gaClient genai.ClientInterface
	if *flags.openaiKey != "" {
		client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			slog.Error("Failed to create GenAI client", "error", err)
			os.Exit(1)
		}
		gaClient = client
	} else {
		slog.Warn("No OpenAI API key configured, using rule-based validation without follow-ups")
	}
	validator := validate.New(gaClient)

	// One instance per state directory; the SQLite archive does not tolerate
	// concurrent writers.
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		lock, err := lockfile.AcquireLock(*flags.stateDir)
		if err != nil {
			slog.Error("Failed to acquire state directory lock", "error", err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	st, err := openStore(flags)
	if err != nil {
		slog.Error("Failed to open interview store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if *flags.local {
		runLocalSession(scripts, flags, validator, gaClient, st)
		return
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if gaClient != nil {
		apiOpts = append(apiOpts, api.WithFollowups(followup.NewAIGenerator(gaClient), followup.NewAIOverlapChecker(gaClient)))
	}
	apiOpts = append(apiOpts, api.WithCapabilities(models.Capabilities{
		TTSAvailable:        twilioConfigured(),
		ValidationAvailable: gaClient != nil,
		FollowupsAvailable:  gaClient != nil,
		Provider:            providerName(gaClient),
	}))

	srv := api.NewServer(scripts, validator, st, apiOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), api.DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Shutdown failed", "error", err)
		}
	}()

	if err := srv.Run(); err != nil {
		slog.Error("voxform failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("voxform exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	ScriptDir   string
	OpenAIKey   string
	APIAddr     string
	CallTo      string
}

// Flags holds command line flag values
type Flags struct {
	stateDir  *string
	dbDSN     *string
	scriptDir *string
	openaiKey *string
	apiAddr   *string
	local     *bool
	script    *string
	callTo    *string
}

// initializeLogger sets up structured logging. VOXFORM_DEBUG=true enables
// debug level.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("VOXFORM_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("VOXFORM_STATE_DIR"),
		ScriptDir:   os.Getenv("VOXFORM_SCRIPT_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
		CallTo:      os.Getenv("TWILIO_TO_NUMBER"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No VOXFORM_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.ScriptDir == "" {
		config.ScriptDir = DefaultScriptDir
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"VOXFORM_STATE_DIR", config.StateDir,
		"VOXFORM_SCRIPT_DIR", config.ScriptDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for voxform data (overrides $VOXFORM_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN for the interview store (overrides $DATABASE_URL)"),
		scriptDir: flag.String("script-dir", config.ScriptDir, "directory of question script JSON files (overrides $VOXFORM_SCRIPT_DIR)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		local:     flag.Bool("local", false, "run one interactive console session instead of the API server"),
		script:    flag.String("script", "", "script name for -local mode (defaults to the only loaded script)"),
		callTo:    flag.String("call-to", config.CallTo, "callee number in E.164 format for the Twilio voice renderer (overrides $TWILIO_TO_NUMBER)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"scriptDir", *flags.scriptDir,
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"local", *flags.local)

	return flags
}

// loadScripts reads every *.json script in the directory, keyed by script name.
func loadScripts(dir string) (map[string]*script.Script, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	scripts := make(map[string]*script.Script, len(paths))
	for _, path := range paths {
		scr, err := script.Load(path)
		if err != nil {
			return nil, err
		}
		name := scr.Name()
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(path), ".json")
		}
		scripts[name] = scr
		slog.Info("Loaded question script", "name", name, "questions", scr.Len(), "path", path)
	}
	return scripts, nil
}

// openStore opens the configured archive backend, creating directories for
// file-based databases.
func openStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if dsn == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// twilioConfigured reports whether the Twilio voice credentials are present
// in the environment.
func twilioConfigured() bool {
	return os.Getenv("TWILIO_ACCOUNT_SID") != "" &&
		os.Getenv("TWILIO_AUTH_TOKEN") != "" &&
		os.Getenv("TWILIO_FROM_NUMBER") != ""
}

// providerName names the configured generation backend for the capability
// probe.
func providerName(gaClient genai.ClientInterface) string {
	if gaClient != nil {
		return "openai"
	}
	return ""
}

// buildSpeechRenderer selects the speech backend: Twilio voice with console
// fallback when a callee number and credentials are configured, console
// output otherwise. The boolean reports whether voice rendering is
// available.
func buildSpeechRenderer(callTo string) (speech.Renderer, bool) {
	local := speech.NewLocalRenderer(os.Stdout)
	if callTo == "" {
		return local, false
	}
	tw, err := speech.NewTwilioRenderer(speech.WithTo(callTo))
	if err != nil {
		slog.Warn("Twilio voice renderer unavailable, using console output", "error", err)
		return local, false
	}
	slog.Info("Twilio voice renderer configured", "to", callTo)
	return speech.NewFallbackRenderer(tw, local), true
}

// runLocalSession drives one questionnaire session end to end: Twilio voice
// or stdout for speech, stdin lines for transcripts.
func runLocalSession(scripts map[string]*script.Script, flags Flags, validator validate.Validator, gaClient genai.ClientInterface, st store.Store) {
	name := *flags.script
	if name == "" {
		if len(scripts) != 1 {
			slog.Error("Multiple scripts loaded, pick one with -script")
			os.Exit(1)
		}
		for n := range scripts {
			name = n
		}
	}
	scr, ok := scripts[name]
	if !ok {
		slog.Error("Unknown script", "script", name)
		os.Exit(1)
	}

	renderer, voiceAvailable := buildSpeechRenderer(*flags.callTo)

	var opts []flow.Option
	if gaClient != nil {
		opts = append(opts, flow.WithFollowups(followup.NewAIGenerator(gaClient), followup.NewAIOverlapChecker(gaClient)))
	}
	opts = append(opts, flow.WithCapabilities(models.Capabilities{
		TTSAvailable:        voiceAvailable,
		ValidationAvailable: gaClient != nil,
		FollowupsAvailable:  gaClient != nil,
		Provider:            providerName(gaClient),
	}))

	sess := flow.NewSession(scr, validator, opts...)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := sess.Run(ctx, renderer, speech.NewReaderCapturer(os.Stdin))
	if err != nil {
		slog.Error("Local session failed", "error", err)
	}

	if err := st.SaveInterview(sess.Interview()); err != nil {
		slog.Error("Failed to archive interview", "error", err)
		os.Exit(1)
	}
	slog.Info("Interview archived", "session", sess.ID(), "complete", sess.Done())
}
