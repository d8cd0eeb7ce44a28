package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type Config struct {
	SlackBotToken string   `yaml:"slack_bot_token"`
	SlackAppToken string   `yaml:"slack_app_token"`
	AdminSlackIDs []string `yaml:"admin_slack_ids"`

	LLMProvider     string  `yaml:"llm_provider"`
	LLMModel        string  `yaml:"llm_model"`
	LLMConfidence   float64 `yaml:"llm_confidence_threshold"`
	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string  `yaml:"openai_api_key"`
	OpenAIBaseURL   string  `yaml:"openai_base_url"`

	DBDriver      string `yaml:"db_driver"`
	DBPath        string `yaml:"db_path"`
	DatabaseURL   string `yaml:"database_url"`
	StepNamesPath string `yaml:"step_names_path"`

	StepGlossaryPath string `yaml:"step_glossary_path"`

	SalesforceLoginURL       string `yaml:"salesforce_login_url"`
	SalesforceUsername       string `yaml:"salesforce_username"`
	SalesforcePassword       string `yaml:"salesforce_password"`
	SalesforceSecurityToken  string `yaml:"salesforce_security_token"`
	SalesforceAPIVersion     string `yaml:"salesforce_api_version"`
	SalesforceMaxAttachBytes int64  `yaml:"salesforce_max_attachment_bytes"`

	WorkerPoolSize             int `yaml:"worker_pool_size"`
	ImportPoolSize             int `yaml:"import_pool_size"`
	DedupTTLMinutes            int `yaml:"dedup_ttl_minutes"`
	ExternalHTTPTimeoutSeconds int `yaml:"external_http_timeout_seconds"`

	AutoImportSchedule  string   `yaml:"auto_import_schedule"`
	AutoImportSteps     []string `yaml:"auto_import_steps"`
	StepRefreshSchedule string   `yaml:"step_refresh_schedule"`
	ReportChannelID     string   `yaml:"report_channel_id"`
	MetricsAddr         string   `yaml:"metrics_addr"`
	Timezone            string   `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverrideList(&cfg.AdminSlackIDs, "ADMIN_SLACK_IDS")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverrideFloat(&cfg.LLMConfidence, "LLM_CONFIDENCE_THRESHOLD")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.DBDriver, "DB_DRIVER")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.DatabaseURL, "DATABASE_URL")
	envOverrideAllowEmpty(&cfg.StepNamesPath, "STEP_NAMES_PATH")
	envOverrideAllowEmpty(&cfg.StepGlossaryPath, "STEP_GLOSSARY_PATH")
	envOverride(&cfg.SalesforceLoginURL, "SALESFORCE_LOGIN_URL")
	envOverride(&cfg.SalesforceUsername, "SALESFORCE_USERNAME")
	envOverride(&cfg.SalesforcePassword, "SALESFORCE_PASSWORD")
	envOverride(&cfg.SalesforceSecurityToken, "SALESFORCE_SECURITY_TOKEN")
	envOverride(&cfg.SalesforceAPIVersion, "SALESFORCE_API_VERSION")
	envOverrideInt64(&cfg.SalesforceMaxAttachBytes, "SALESFORCE_MAX_ATTACHMENT_BYTES")
	envOverrideInt(&cfg.WorkerPoolSize, "WORKER_POOL_SIZE")
	envOverrideInt(&cfg.ImportPoolSize, "IMPORT_POOL_SIZE")
	envOverrideInt(&cfg.DedupTTLMinutes, "DEDUP_TTL_MINUTES")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverrideAllowEmpty(&cfg.AutoImportSchedule, "AUTO_IMPORT_SCHEDULE")
	envOverrideList(&cfg.AutoImportSteps, "AUTO_IMPORT_STEPS")
	envOverrideAllowEmpty(&cfg.StepRefreshSchedule, "STEP_REFRESH_SCHEDULE")
	envOverride(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverrideAllowEmpty(&cfg.MetricsAddr, "METRICS_ADDR")
	envOverride(&cfg.Timezone, "TIMEZONE")

	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.LLMModel == "" {
		switch cfg.LLMProvider {
		case "openai":
			cfg.LLMModel = "gpt-4o-mini"
		default:
			cfg.LLMModel = "claude-sonnet-4-5"
		}
	}
	if cfg.LLMConfidence == 0 {
		cfg.LLMConfidence = 0.50
	}
	if cfg.DBDriver == "" {
		cfg.DBDriver = DriverSQLite
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./failurebot.db"
	}
	if cfg.StepNamesPath == "" {
		cfg.StepNamesPath = "STEP_NAMES.md"
	}
	if cfg.SalesforceAPIVersion == "" {
		cfg.SalesforceAPIVersion = "v59.0"
	}
	if cfg.SalesforceMaxAttachBytes == 0 {
		cfg.SalesforceMaxAttachBytes = 50 << 20
	}
	if cfg.WorkerPoolSize == 0 {
		cfg.WorkerPoolSize = 12
	}
	if cfg.ImportPoolSize == 0 {
		cfg.ImportPoolSize = 2
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	required := map[string]string{
		"slack_bot_token": cfg.SlackBotToken,
		"slack_app_token": cfg.SlackAppToken,
	}
	for name, val := range required {
		if val == "" {
			log.Fatalf("Required config '%s' is not set (via config.yaml or env var)", name)
		}
	}

	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required when llm_provider=openai")
		}
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	switch cfg.DBDriver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			log.Fatalf("database_url is required when db_driver=pgx")
		}
	default:
		log.Fatalf("db_driver must be 'sqlite3' or 'pgx', got '%s'", cfg.DBDriver)
	}

	salesforceFields := map[string]string{
		"salesforce_login_url":      cfg.SalesforceLoginURL,
		"salesforce_username":       cfg.SalesforceUsername,
		"salesforce_password":       cfg.SalesforcePassword,
		"salesforce_security_token": cfg.SalesforceSecurityToken,
	}
	salesforceSet := 0
	for _, v := range salesforceFields {
		if v != "" {
			salesforceSet++
		}
	}
	if salesforceSet > 0 && salesforceSet < len(salesforceFields) {
		for name, val := range salesforceFields {
			if val == "" {
				log.Fatalf("Partial Salesforce config: '%s' is not set (login url, username, password and security token are required together)", name)
			}
		}
	}
	if !cfg.SalesforceConfigured() {
		log.Printf("WARNING: Salesforce is not configured. Import requests will fail.")
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.LLMConfidence < 0 || cfg.LLMConfidence > 1 {
		log.Fatalf("invalid llm_confidence_threshold '%f': must be between 0 and 1", cfg.LLMConfidence)
	}
	if cfg.WorkerPoolSize < 1 {
		log.Fatalf("invalid worker_pool_size '%d': must be >= 1", cfg.WorkerPoolSize)
	}
	if cfg.ImportPoolSize < 1 {
		log.Fatalf("invalid import_pool_size '%d': must be >= 1", cfg.ImportPoolSize)
	}
	if cfg.DedupTTLMinutes < 0 {
		log.Fatalf("invalid dedup_ttl_minutes '%d': must be >= 0", cfg.DedupTTLMinutes)
	}
	if cfg.SalesforceMaxAttachBytes < 1 {
		log.Fatalf("invalid salesforce_max_attachment_bytes '%d': must be >= 1", cfg.SalesforceMaxAttachBytes)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		log.Fatalf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideInt64(field *int64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideList(field *[]string, envKey string) {
	raw := os.Getenv(envKey)
	if raw == "" {
		return
	}
	*field = nil
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			*field = append(*field, v)
		}
	}
}

func (c Config) IsAdminID(userID string) bool {
	for _, id := range c.AdminSlackIDs {
		if strings.TrimSpace(id) == userID {
			return true
		}
	}
	return false
}

func (c Config) SalesforceConfigured() bool {
	return c.SalesforceLoginURL != "" && c.SalesforceUsername != "" &&
		c.SalesforcePassword != "" && c.SalesforceSecurityToken != ""
}

// DataSource returns the driver-specific connection string.
func (c Config) DataSource() string {
	if c.DBDriver == DriverPostgres {
		return c.DatabaseURL
	}
	return c.DBPath
}

func (c Config) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLMinutes) * time.Minute
}
