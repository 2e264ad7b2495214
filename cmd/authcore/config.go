package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/authcore/internal/logger"
)

const (
	defaultListenAddr    = "localhost:8000"
	defaultLoggingLevel  = logger.LevelInfo
	defaultEnvironment   = logger.EnvProduction
	defaultStoreTimeout  = 3 * time.Second
	defaultSweepInterval = 10 * time.Minute
	defaultBcryptCost    = 12
	defaultJWTAlgorithm  = "HS256"
	defaultAccessTTL     = 15 * time.Minute
	defaultRefreshTTL    = 30 * 24 * time.Hour
	defaultVerifyTTL     = 24 * time.Hour

	// Development only secrets, rejected in production
	placeholderAccessSecret  = "insecure-access-secret-change-me"
	placeholderRefreshSecret = "insecure-refresh-secret-change-me"
)

// Storage backends
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to. Users are always stored there
	DatabaseDSN string

	// Token signing
	// Access and refresh tokens must be signed with different secrets
	AccessSecret  string
	RefreshSecret string
	JWTAlgorithm  string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	VerifyTTL     time.Duration

	// Upper bound for every store operation of a request
	StoreTimeout time.Duration

	// How often expired blacklist entries and refresh tokens are removed
	SweepInterval time.Duration

	BcryptCost int

	// Where access token blacklist is kept: postgres or redis
	BlacklistBackend string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	// Where refresh token ledger is kept: postgres or dynamodb
	LedgerBackend  string
	DynamoEndpoint string
	DynamoRegion   string
	DynamoTable    string

	// Security and verification events are logged only if brokers are empty
	KafkaBrokers []string
	KafkaTopic   string

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:         defaultLoggingLevel,
		ListenAddr:       defaultListenAddr,
		AccessSecret:     placeholderAccessSecret,
		RefreshSecret:    placeholderRefreshSecret,
		JWTAlgorithm:     defaultJWTAlgorithm,
		AccessTTL:        defaultAccessTTL,
		RefreshTTL:       defaultRefreshTTL,
		VerifyTTL:        defaultVerifyTTL,
		StoreTimeout:     defaultStoreTimeout,
		SweepInterval:    defaultSweepInterval,
		BcryptCost:       defaultBcryptCost,
		BlacklistBackend: BackendPostgres,
		RedisAddr:        "localhost:6379",
		LedgerBackend:    BackendPostgres,
		DynamoRegion:     "us-east-1",
		DynamoTable:      "refresh_tokens",
		KafkaTopic:       "auth-events",
		Environment:      defaultEnvironment,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			i, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = i
			return nil
		}
	}
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = strings.Split(value, ",")
			}
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":          setString(&c.ListenAddr),
		"DATABASE_URI":         setString(&c.DatabaseDSN),
		"ACCESS_TOKEN_SECRET":  setString(&c.AccessSecret),
		"REFRESH_TOKEN_SECRET": setString(&c.RefreshSecret),
		"JWT_ALGORITHM":        setString(&c.JWTAlgorithm),
		"ACCESS_TOKEN_TTL":     setDuration(&c.AccessTTL),
		"REFRESH_TOKEN_TTL":    setDuration(&c.RefreshTTL),
		"VERIFY_TOKEN_TTL":     setDuration(&c.VerifyTTL),
		"STORE_TIMEOUT":        setDuration(&c.StoreTimeout),
		"SWEEP_INTERVAL":       setDuration(&c.SweepInterval),
		"BCRYPT_COST":          setInt(&c.BcryptCost),
		"BLACKLIST_BACKEND":    setString(&c.BlacklistBackend),
		"REDIS_ADDRESS":        setString(&c.RedisAddr),
		"REDIS_PASSWORD":       setString(&c.RedisPassword),
		"REDIS_DB":             setInt(&c.RedisDB),
		"LEDGER_BACKEND":       setString(&c.LedgerBackend),
		"DYNAMODB_ENDPOINT":    setString(&c.DynamoEndpoint),
		"DYNAMODB_REGION":      setString(&c.DynamoRegion),
		"DYNAMODB_TABLE":       setString(&c.DynamoTable),
		"KAFKA_BROKERS":        setList(&c.KafkaBrokers),
		"KAFKA_TOPIC":          setString(&c.KafkaTopic),
		"LOG_LEVEL":            setString(&c.LogLevel),
		"ENVIRONMENT":          setString(&c.Environment),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("authcore", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVar(&c.AccessSecret, "access-secret", c.AccessSecret, "Access token signing secret")
	fs.StringVar(&c.RefreshSecret, "refresh-secret", c.RefreshSecret, "Refresh token signing secret")
	fs.StringVar(&c.JWTAlgorithm, "alg", c.JWTAlgorithm, "Token signing algorithm (HS256, HS384, HS512)")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.DurationVar(&c.VerifyTTL, "verify-ttl", c.VerifyTTL, "Email verification token lifetime")
	fs.DurationVar(&c.StoreTimeout, "store-timeout", c.StoreTimeout, "Store operations timeout")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Expired tokens cleanup interval")
	fs.IntVar(&c.BcryptCost, "bcrypt-cost", c.BcryptCost, "Bcrypt cost")
	fs.StringVar(&c.BlacklistBackend, "blacklist", c.BlacklistBackend, "Access token blacklist backend (postgres, redis)")
	fs.StringVar(&c.RedisAddr, "redis-address", c.RedisAddr, "Redis address")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database")
	fs.StringVar(&c.LedgerBackend, "ledger", c.LedgerBackend, "Refresh token ledger backend (postgres, dynamodb)")
	fs.StringVar(&c.DynamoEndpoint, "dynamo-endpoint", c.DynamoEndpoint, "DynamoDB endpoint, AWS default if empty")
	fs.StringVar(&c.DynamoRegion, "dynamo-region", c.DynamoRegion, "DynamoDB region")
	fs.StringVar(&c.DynamoTable, "dynamo-table", c.DynamoTable, "DynamoDB refresh tokens table")
	fs.StringSliceVar(&c.KafkaBrokers, "kafka-brokers", c.KafkaBrokers, "Kafka brokers for auth events, events are logged if empty")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", c.KafkaTopic, "Kafka topic for auth events")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}

// Validate checks options that can't be checked by components themselves
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database connection string is required"))
	}

	switch {
	case c.AccessSecret == "" || c.RefreshSecret == "":
		errs = append(errs, errors.New("access and refresh secrets are required"))
	case c.AccessSecret == c.RefreshSecret:
		errs = append(errs, errors.New("access and refresh secrets must differ"))
	}
	if c.Environment == logger.EnvProduction && (c.AccessSecret == placeholderAccessSecret || c.RefreshSecret == placeholderRefreshSecret) {
		errs = append(errs, errors.New("placeholder secrets are not allowed in production"))
	}

	durations := map[string]time.Duration{
		"access token ttl":  c.AccessTTL,
		"refresh token ttl": c.RefreshTTL,
		"verify token ttl":  c.VerifyTTL,
		"store timeout":     c.StoreTimeout,
		"sweep interval":    c.SweepInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if c.BlacklistBackend != BackendPostgres && c.BlacklistBackend != BackendRedis {
		errs = append(errs, fmt.Errorf("unknown blacklist backend %q", c.BlacklistBackend))
	}
	if c.LedgerBackend != BackendPostgres && c.LedgerBackend != BackendDynamoDB {
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.LedgerBackend))
	}

	return errors.Join(errs...)
}
