package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Lead record store
	DatabaseURL        string
	LeadStore          string
	DynamoDBLeadsTable string
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool
	LeaseTTL           time.Duration

	// Decision thresholds
	ConfidenceFloor       float64
	AppointmentConfidence float64
	MaxFollowUps          int
	FollowUpInterval      time.Duration
	CadenceInterval       time.Duration
	OfferValidFor         time.Duration
	OfferExpiredDay       int
	StoreTimezone         string
	StoreHours            string
	QuietHoursStart       string
	QuietHoursEnd         string

	// Scanner
	ScanInterval    time.Duration
	ScanBatchSize   int
	ScanConcurrency int
	TickQueue       string
	SQSTickQueueURL string
	AsynqQueue      string

	// Webhook dedupe claims older than ProcessedEventRetention are pruned
	// every ProcessedEventPruneInterval.
	ProcessedEventRetention     time.Duration
	ProcessedEventPruneInterval time.Duration

	// Collaborators
	CRMBaseURL             string
	CRMClientID            string
	CRMClientSecret        string
	CRMTokenURL            string
	CRMSenderEmail         string
	CollaboratorTimeout    time.Duration
	CollaboratorMaxRetries int

	TelnyxAPIKey             string
	TelnyxMessagingProfileID string
	TelnyxFromNumber         string
	TelnyxWebhookSecret      string
	TwilioAuthToken          string
	PublicBaseURL            string
	CRMWebhookToken          string
	CORSAllowedOrigins       []string
	WebhookRateLimit         float64
	WebhookRateBurst         int

	DealershipName string
	AgentName      string

	LLMProvider    string
	BedrockModelID string
	GeminiAPIKey   string
	GeminiModel    string

	EmailProvider        string
	SendGridAPIKey       string
	EmailFrom            string
	EmailFromName        string
	SMTPHost             string
	SMTPPort             int
	SMTPUser             string
	SMTPPassword         string
	StaffNotifyEmails    []string
	StaffNotifyPhones    []string
	SecondaryNotifyEmail string
	ArchiveBucket        string
	AdminJWTSecret       string

	// Environment toggles
	SafeModeRecipient string
	SafeModePhone     string
	DryRun            bool
	OfflineMode       bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables, after an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:        getEnv("DATABASE_URL", ""),
		LeadStore:          strings.ToLower(strings.TrimSpace(getEnv("LEAD_STORE", "auto"))),
		DynamoDBLeadsTable: getEnv("DYNAMODB_LEADS_TABLE", "leads"),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		LeaseTTL:           getEnvAsDuration("LEASE_TTL", 2*time.Minute),

		ConfidenceFloor:       getEnvAsFloat("CONF_FLOOR", 0.75),
		AppointmentConfidence: getEnvAsFloat("APPOINTMENT_CONFIDENCE", 0.80),
		MaxFollowUps:          getEnvAsInt("MAX_FOLLOW_UPS", 6),
		FollowUpInterval:      getEnvAsDuration("FOLLOW_UP_INTERVAL", 48*time.Hour),
		CadenceInterval:       getEnvAsDuration("CADENCE_INTERVAL", 24*time.Hour),
		OfferValidFor:         getEnvAsDuration("OFFER_VALID_FOR", 7*24*time.Hour),
		OfferExpiredDay:       getEnvAsInt("OFFER_EXPIRED_DAY", 7),
		StoreTimezone:         getEnv("STORE_TIMEZONE", "America/New_York"),
		StoreHours:            getEnv("STORE_HOURS", "mon-fri 09:00-19:00, sat 09:00-17:00"),
		QuietHoursStart:       getEnv("QUIET_HOURS_START", "21:00"),
		QuietHoursEnd:         getEnv("QUIET_HOURS_END", "08:00"),

		ScanInterval:    getEnvAsDuration("SCAN_INTERVAL", time.Minute),
		ScanBatchSize:   getEnvAsInt("SCAN_BATCH_SIZE", 100),
		ScanConcurrency: getEnvAsInt("SCAN_CONCURRENCY", 8),
		TickQueue:       strings.ToLower(getEnv("TICK_QUEUE", "memory")),
		SQSTickQueueURL: getEnv("SQS_TICK_QUEUE_URL", ""),
		AsynqQueue:      getEnv("ASYNQ_QUEUE", "leads"),

		ProcessedEventRetention:     getEnvAsDuration("PROCESSED_EVENT_RETENTION", 30*24*time.Hour),
		ProcessedEventPruneInterval: getEnvAsDuration("PROCESSED_EVENT_PRUNE_INTERVAL", 24*time.Hour),

		CRMBaseURL:             getEnv("CRM_BASE_URL", ""),
		CRMClientID:            getEnv("CRM_CLIENT_ID", ""),
		CRMClientSecret:        getEnv("CRM_CLIENT_SECRET", ""),
		CRMTokenURL:            getEnv("CRM_TOKEN_URL", ""),
		CRMSenderEmail:         getEnv("CRM_SENDER_EMAIL", ""),
		CollaboratorTimeout:    getEnvAsDuration("COLLABORATOR_TIMEOUT", 15*time.Second),
		CollaboratorMaxRetries: getEnvAsInt("COLLABORATOR_MAX_RETRIES", 3),

		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
		TelnyxFromNumber:         getEnv("TELNYX_FROM_NUMBER", ""),
		TelnyxWebhookSecret:      getEnv("TELNYX_WEBHOOK_SECRET", ""),
		TwilioAuthToken:          getEnv("TWILIO_AUTH_TOKEN", ""),
		PublicBaseURL:            getEnv("PUBLIC_BASE_URL", ""),
		CRMWebhookToken:          getEnv("CRM_WEBHOOK_TOKEN", ""),
		CORSAllowedOrigins:       getEnvAsList("CORS_ALLOWED_ORIGINS"),
		WebhookRateLimit:         getEnvAsFloat("WEBHOOK_RATE_LIMIT", 20),
		WebhookRateBurst:         getEnvAsInt("WEBHOOK_RATE_BURST", 40),

		DealershipName: getEnv("DEALERSHIP_NAME", "the dealership"),
		AgentName:      getEnv("AGENT_NAME", "Sales Team"),

		LLMProvider:    strings.ToLower(getEnv("LLM_PROVIDER", "bedrock")),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		EmailProvider:        strings.ToLower(getEnv("EMAIL_PROVIDER", "stub")),
		SendGridAPIKey:       getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:            getEnv("EMAIL_FROM", ""),
		EmailFromName:        getEnv("EMAIL_FROM_NAME", "Sales Team"),
		SMTPHost:             getEnv("SMTP_HOST", ""),
		SMTPPort:             getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:             getEnv("SMTP_USER", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		StaffNotifyEmails:    getEnvAsList("STAFF_NOTIFY_EMAILS"),
		StaffNotifyPhones:    getEnvAsList("STAFF_NOTIFY_PHONES"),
		SecondaryNotifyEmail: getEnv("SECONDARY_NOTIFY_EMAIL", ""),
		ArchiveBucket:        getEnv("ARCHIVE_BUCKET", ""),
		AdminJWTSecret:       getEnv("ADMIN_JWT_SECRET", ""),

		SafeModeRecipient: strings.TrimSpace(getEnv("SAFE_MODE_RECIPIENT", "")),
		SafeModePhone:     strings.TrimSpace(getEnv("SAFE_MODE_PHONE", "")),
		DryRun:            getEnvAsBool("DRY_RUN", false),
		OfflineMode:       getEnvAsBool("OFFLINE_MODE", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_URL", ""),
	}
}

// Validate rejects combinations the engine cannot run with.
func (c *Config) Validate() error {
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("config: CONF_FLOOR must be within [0,1], got %v", c.ConfidenceFloor)
	}
	if c.AppointmentConfidence < 0 || c.AppointmentConfidence > 1 {
		return fmt.Errorf("config: APPOINTMENT_CONFIDENCE must be within [0,1], got %v", c.AppointmentConfidence)
	}
	switch c.LeadStore {
	case "auto", "memory", "postgres", "dynamodb":
	default:
		return fmt.Errorf("config: unknown LEAD_STORE %q", c.LeadStore)
	}
	switch c.TickQueue {
	case "memory", "sqs":
	default:
		return fmt.Errorf("config: unknown TICK_QUEUE %q", c.TickQueue)
	}
	if c.TickQueue == "sqs" && c.SQSTickQueueURL == "" {
		return fmt.Errorf("config: SQS_TICK_QUEUE_URL is required when TICK_QUEUE=sqs")
	}
	if c.LeadStore == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required when LEAD_STORE=postgres")
	}
	return nil
}

// ResolvedLeadStore picks the backend for LEAD_STORE=auto.
func (c *Config) ResolvedLeadStore() string {
	if c.OfflineMode {
		return "memory"
	}
	if c.LeadStore != "auto" {
		return c.LeadStore
	}
	if c.DatabaseURL != "" {
		return "postgres"
	}
	return "memory"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
