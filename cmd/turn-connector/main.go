package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/turnhub/turn-connector/internal/api"
	"github.com/turnhub/turn-connector/internal/ledger"
	"github.com/turnhub/turn-connector/internal/retry"
	"github.com/turnhub/turn-connector/internal/runtime"
	"github.com/turnhub/turn-connector/internal/turnapi"
	"github.com/turnhub/turn-connector/internal/util"
)

// Default configuration constants
const (
	// DefaultRuntimeURL is the conversational runtime's REST webhook endpoint.
	DefaultRuntimeURL = "http://localhost:5005/webhooks/rest/webhook"
	// DefaultAPIAddr is the connector's listen address.
	DefaultAPIAddr = ":8080"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Build module options
	turnOpts := buildTurnOptions(flags)
	ledgerOpts := buildLedgerOptions(flags)
	runtimeOpts := buildRuntimeOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping Turn connector with configured modules")
	slog.Debug("Module options counts", "turn", len(turnOpts), "ledger", len(ledgerOpts), "runtime", len(runtimeOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "api_addr", *flags.apiAddr, "dsn_set", *flags.dbDSN != "", "hmac_secret_set", *flags.hmacSecret != "")
	if err := api.Run(turnOpts, ledgerOpts, runtimeOpts, apiOpts); err != nil {
		slog.Error("Turn connector failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Turn connector exited successfully")
}

// Config holds environment configuration
type Config struct {
	TurnURL     string
	TurnToken   string
	HMACSecret  string
	DatabaseDSN string
	RuntimeURL  string
	APIAddr     string
	Retries     int
}

// Flags holds command line flag values
type Flags struct {
	turnURL    *string
	turnToken  *string
	hmacSecret *string
	dbDSN      *string
	runtimeURL *string
	apiAddr    *string
	retries    *int
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		TurnURL:     os.Getenv("TURN_URL"),
		TurnToken:   os.Getenv("TURN_TOKEN"),
		HMACSecret:  os.Getenv("TURN_HMAC_SECRET"),
		DatabaseDSN: os.Getenv("DATABASE_DSN"),
		RuntimeURL:  os.Getenv("RASA_REST_URL"),
		APIAddr:     os.Getenv("API_ADDR"),
		Retries:     util.ParseIntEnv("TURN_HTTP_RETRIES", retry.DefaultMaxRetries),
	}

	// DATABASE_URL remains supported for deployments that predate DATABASE_DSN.
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = os.Getenv("DATABASE_URL")
		if config.DatabaseDSN != "" {
			slog.Debug("Using DATABASE_URL as DATABASE_DSN", "dsn_set", true)
		}
	}

	if config.RuntimeURL == "" {
		config.RuntimeURL = DefaultRuntimeURL
		slog.Debug("No RASA_REST_URL set, using default", "runtime_url", config.RuntimeURL)
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}

	slog.Debug("environment variables loaded",
		"TURN_URL_SET", config.TurnURL != "",
		"TURN_TOKEN_SET", config.TurnToken != "",
		"TURN_HMAC_SECRET_SET", config.HMACSecret != "",
		"DATABASE_DSN_SET", config.DatabaseDSN != "",
		"RASA_REST_URL", config.RuntimeURL,
		"API_ADDR", config.APIAddr,
		"TURN_HTTP_RETRIES", config.Retries)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		turnURL:    flag.String("turn-url", config.TurnURL, "Turn API base URL (overrides $TURN_URL)"),
		turnToken:  flag.String("turn-token", config.TurnToken, "Turn API bearer token (overrides $TURN_TOKEN)"),
		hmacSecret: flag.String("hmac-secret", config.HMACSecret, "webhook HMAC secret (overrides $TURN_HMAC_SECRET)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseDSN, "database DSN for the idempotency ledger (overrides $DATABASE_DSN or $DATABASE_URL)"),
		runtimeURL: flag.String("rasa-url", config.RuntimeURL, "conversational runtime REST webhook URL (overrides $RASA_REST_URL)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		retries:    flag.Int("http-retries", config.Retries, "max retries per outbound Turn call (overrides $TURN_HTTP_RETRIES)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"turnURL_set", *flags.turnURL != "",
		"turnToken_set", *flags.turnToken != "",
		"hmacSecret_set", *flags.hmacSecret != "",
		"dbDSN_set", *flags.dbDSN != "",
		"runtimeURL", *flags.runtimeURL,
		"apiAddr", *flags.apiAddr,
		"retries", *flags.retries)

	return flags
}

// buildTurnOptions constructs Turn client configuration options
func buildTurnOptions(flags Flags) []turnapi.Option {
	var turnOpts []turnapi.Option
	if *flags.turnURL != "" {
		turnOpts = append(turnOpts, turnapi.WithBaseURL(*flags.turnURL))
	}
	if *flags.turnToken != "" {
		turnOpts = append(turnOpts, turnapi.WithToken(*flags.turnToken))
	}
	turnOpts = append(turnOpts, turnapi.WithRetries(*flags.retries))
	return turnOpts
}

// buildLedgerOptions constructs idempotency ledger configuration options
func buildLedgerOptions(flags Flags) []ledger.Option {
	var ledgerOpts []ledger.Option
	if *flags.dbDSN != "" {
		if ledger.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL ledger", "dsn_type", "postgresql", "dsn_set", true)
			ledgerOpts = append(ledgerOpts, ledger.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite ledger", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			ledgerOpts = append(ledgerOpts, ledger.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Warn("No database DSN provided, deduplication will not survive restarts")
	}
	return ledgerOpts
}

// buildRuntimeOptions constructs runtime forwarder configuration options
func buildRuntimeOptions(flags Flags) []runtime.Option {
	var runtimeOpts []runtime.Option
	if *flags.runtimeURL != "" {
		runtimeOpts = append(runtimeOpts, runtime.WithURL(*flags.runtimeURL))
	}
	return runtimeOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.hmacSecret != "" {
		apiOpts = append(apiOpts, api.WithHMACSecret(*flags.hmacSecret))
	}
	return apiOpts
}
