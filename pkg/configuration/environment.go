package configuration

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/fundflow/receipts/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

func LoadEnv(envFiles []string) (int, error) {
	existingFiles := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existingFiles = append(existingFiles, file)
		}
	}

	if len(existingFiles) == 0 {
		return 0, nil
	}

	return len(existingFiles), godotenv.Load(existingFiles...)
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"receipts"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"receipts"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

type RateLimitOptions struct {
	Enabled   bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	GlobalRPS int  `env:"RATE_LIMIT_GLOBAL_RPS" envDefault:"100"`
}

func (r *RateLimitOptions) Validate() error {
	if r.GlobalRPS < 0 {
		return fmt.Errorf("rate limit GlobalRPS must be non-negative, got %d", r.GlobalRPS)
	}
	return nil
}

// QueueOptions tunes the durable message queue relay.
type QueueOptions struct {
	RelayEnabled         bool          `env:"QUEUE_RELAY_ENABLED" envDefault:"true"`
	RelayPollInterval    time.Duration `env:"QUEUE_RELAY_POLL_INTERVAL" envDefault:"1s"`
	RelayBatchSize       int           `env:"QUEUE_RELAY_BATCH_SIZE" envDefault:"10"`
	RelayLockTTL         time.Duration `env:"QUEUE_RELAY_LOCK_TTL" envDefault:"60s"`
	RelayMaxAttempts     int           `env:"QUEUE_RELAY_MAX_ATTEMPTS" envDefault:"25"`
	RelaySingleActive    bool          `env:"QUEUE_RELAY_SINGLE_ACTIVE" envDefault:"true"`
	RelayDispatchTimeout time.Duration `env:"QUEUE_RELAY_DISPATCH_TIMEOUT" envDefault:"60s"`

	LastErrorMaxBytes int `env:"QUEUE_LAST_ERROR_MAX_BYTES" envDefault:"2048"`

	CleanerEnabled   bool          `env:"QUEUE_CLEANER_ENABLED" envDefault:"true"`
	CleanerInterval  time.Duration `env:"QUEUE_CLEANER_INTERVAL" envDefault:"1m"`
	CleanerRetention time.Duration `env:"QUEUE_CLEANER_RETENTION" envDefault:"168h"`
}

// ImporterOptions bounds a single scheduler invocation. A full batch plus its
// directory calls has to fit inside the relay dispatch timeout with headroom.
type ImporterOptions struct {
	BatchSize           int           `env:"IMPORT_BATCH_SIZE" envDefault:"25"`
	TimeBudget          time.Duration `env:"IMPORT_TIME_BUDGET" envDefault:"25s"`
	DirectoryCallBudget int           `env:"IMPORT_DIRECTORY_CALL_BUDGET" envDefault:"40"`
}

func (o *ImporterOptions) Validate() error {
	if o.BatchSize <= 0 {
		return fmt.Errorf("importer BatchSize must be positive, got %d", o.BatchSize)
	}
	if o.TimeBudget <= 0 {
		return fmt.Errorf("importer TimeBudget must be positive, got %s", o.TimeBudget)
	}
	if o.DirectoryCallBudget <= 0 {
		return fmt.Errorf("importer DirectoryCallBudget must be positive, got %d", o.DirectoryCallBudget)
	}
	return nil
}

type DirectoryOptions struct {
	BaseURL       string        `env:"DIRECTORY_BASE_URL" envDefault:"http://localhost:8090"`
	APIKey        string        `env:"DIRECTORY_API_KEY"`
	Timeout       time.Duration `env:"DIRECTORY_TIMEOUT" envDefault:"5s"`
	MaxRetries    int           `env:"DIRECTORY_MAX_RETRIES" envDefault:"2"`
	RetryInterval time.Duration `env:"DIRECTORY_RETRY_INTERVAL" envDefault:"200ms"`
}

// DocgenOptions locates the receipt template assets in the object store and
// pins the text coordinates used when overlaying resolved fields.
type DocgenOptions struct {
	TemplateKey string  `env:"DOCGEN_TEMPLATE_KEY" envDefault:"templates/receipt.pdf"`
	FontKey     string  `env:"DOCGEN_FONT_KEY" envDefault:"templates/receipt.ttf"`
	FontSize    float64 `env:"DOCGEN_FONT_SIZE" envDefault:"11"`

	NameX   float64 `env:"DOCGEN_NAME_X" envDefault:"140"`
	NameY   float64 `env:"DOCGEN_NAME_Y" envDefault:"210"`
	PeriodX float64 `env:"DOCGEN_PERIOD_X" envDefault:"470"`
	PeriodY float64 `env:"DOCGEN_PERIOD_Y" envDefault:"120"`
	AmountX float64 `env:"DOCGEN_AMOUNT_X" envDefault:"470"`
	AmountY float64 `env:"DOCGEN_AMOUNT_Y" envDefault:"260"`
	DateX   float64 `env:"DOCGEN_DATE_X" envDefault:"470"`
	DateY   float64 `env:"DOCGEN_DATE_Y" envDefault:"300"`
}

type Configuration struct {
	Database      DatabaseOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions
	RateLimit     RateLimitOptions
	Queue         QueueOptions
	Importer      ImporterOptions
	Directory     DirectoryOptions
	Docgen        DocgenOptions

	MigrationsDir    string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	ServerPort       int    `env:"PORT" envDefault:"3200"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	SocketAddress    string `env:"-"`
	BlobsPath        string `env:"BLOBS_PATH" envDefault:"blobs"`
	MaxUploadSize    int64  `env:"MAX_UPLOAD_SIZE" envDefault:"33554432"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	LogPath          string `env:"LOG_PATH" envDefault:"./logs/app.log"`
	RequestIDHeader  string `env:"REQUEST_ID_HEADER" envDefault:"X-Request-ID"`
	RealIPHeader     string `env:"REAL_IP_HEADER" envDefault:"X-Real-IP"`

	logWriter io.WriteCloser
	logger    *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate limit configuration error: %w", err)
	}
	if err := c.Importer.Validate(); err != nil {
		return fmt.Errorf("importer configuration error: %w", err)
	}

	w, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return err
	}
	c.logWriter = w
	c.logger = logger

	c.Database.Opts = c.Database.ConnectionString()
	if c.GoAppEnvironment == Production {
		c.SocketAddress = fmt.Sprintf(":%d", c.ServerPort)
	} else {
		c.SocketAddress = fmt.Sprintf("localhost:%d", c.ServerPort)
	}

	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logWriter != nil {
		if err := c.logWriter.Close(); err != nil {
			log.Printf("Failed to close log writer: %v", err)
		}
	}
}
