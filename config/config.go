package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"9000"`

	// Basis-URL unter der Claims öffentlich adressierbar sind (claim node URIs).
	BaseURL string `envconfig:"BASE_URL" default:"http://localhost:9000"`
	// Basis-URL für generierte Profilseiten.
	ProfileBaseURL string `envconfig:"PROFILE_BASE_URL" default:"http://localhost:9000"`

	PipelineServiceURL string `envconfig:"PIPELINE_SERVICE_URL" default:"http://localhost:8001"`
	SigningServiceURL  string `envconfig:"SIGNING_SERVICE_URL"`

	APISecretKey string `envconfig:"API_SECRET_KEY"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"*/15 * * * *"`

	// Optionales S3-Archiv für eingereichte Credential-Dokumente.
	ArchiveS3Key    string `envconfig:"ARCHIVE_S3_KEY"`
	ArchiveS3Secret string `envconfig:"ARCHIVE_S3_SECRET"`
	ArchiveS3URL    string `envconfig:"ARCHIVE_S3_URL"`
	ArchiveS3Region string `envconfig:"ARCHIVE_S3_REGION"`
	ArchiveS3Bucket string `envconfig:"ARCHIVE_S3_BUCKET"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// ArchiveEnabled meldet, ob das S3-Archiv konfiguriert ist.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveS3Bucket != "" && c.ArchiveS3URL != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
