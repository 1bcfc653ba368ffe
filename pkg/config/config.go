package config

import "os"

// Config holds server configuration.
type Config struct {
	Port         string
	LogLevel     string
	Environment  string
	PublicURL    string
	DatabaseURL  string
	RedisAddr    string
	JWTSecret    string
	CatalogDir   string
	OTLPEndpoint string
	InlineWorker bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	env := os.Getenv("NODE_ENV")
	if env == "" {
		env = "development"
	}

	publicURL := os.Getenv("SERVER_PUBLIC_URL")
	if publicURL == "" {
		publicURL = "http://localhost:" + port
	}

	catalogDir := os.Getenv("CATALOG_DIR")
	if catalogDir == "" {
		catalogDir = "catalog"
	}

	return &Config{
		Port:         port,
		LogLevel:     logLevel,
		Environment:  env,
		PublicURL:    publicURL,
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		CatalogDir:   catalogDir,
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		InlineWorker: os.Getenv("ENABLE_INLINE_WORKER") == "true",
	}
}
