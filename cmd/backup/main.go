package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kelseyhightower/envconfig"
)

const backupPrefix = "trustgraph-backup-"

type BackupConfig struct {
	PostgresHost     string `envconfig:"POSTGRES_HOST" required:"true"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresUser     string `envconfig:"POSTGRES_USER" required:"true"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD" required:"true"`
	PostgresDB       string `envconfig:"POSTGRES_DB" required:"true"`
	BackupBucket     string `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	BackupEndpoint   string `envconfig:"BACKUP_S3_ENDPOINT" required:"true"`
	BackupAccessKey  string `envconfig:"BACKUP_S3_ACCESS_KEY" required:"true"`
	BackupSecretKey  string `envconfig:"BACKUP_S3_SECRET_KEY" required:"true"`
	BackupRegion     string `envconfig:"BACKUP_S3_REGION" required:"true"`
	KeepBackups      int    `envconfig:"KEEP_BACKUPS" default:"7"`
}

func main() {
	log.Println("Starte Backup der Claims-Datenbank...")

	var cfg BackupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Fehler beim Laden der Konfiguration: %v", err)
	}

	dumpData, err := createDump(cfg)
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des DB-Dumps: %v", err)
	}
	log.Printf("Dump erstellt (%d Bytes komprimiert)", len(dumpData))

	s3Client, err := createS3Client(cfg)
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des S3-Clients: %v", err)
	}

	fileName := fmt.Sprintf("%s%s.sql.gz", backupPrefix, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	if err := uploadToS3(s3Client, cfg, fileName, dumpData); err != nil {
		log.Fatalf("Fehler beim Hochladen nach S3: %v", err)
	}
	log.Printf("Backup nach s3://%s/%s hochgeladen", cfg.BackupBucket, fileName)

	if err := rotateBackups(s3Client, cfg); err != nil {
		log.Fatalf("Fehler bei der Rotation alter Backups: %v", err)
	}

	log.Println("Backup abgeschlossen.")
}

func createDump(cfg BackupConfig) ([]byte, error) {
	cmd := exec.Command("pg_dump",
		"-h", cfg.PostgresHost,
		"-p", strconv.Itoa(cfg.PostgresPort),
		"-U", cfg.PostgresUser,
		"-d", cfg.PostgresDB,
		"-w", // Passwort kommt über PGPASSWORD
	)
	cmd.Env = append(os.Environ(), fmt.Sprintf("PGPASSWORD=%s", cfg.PostgresPassword))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)
	if _, err := io.Copy(gzipWriter, stdout); err != nil {
		return nil, err
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func createS3Client(cfg BackupConfig) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: cfg.BackupEndpoint,
		}, nil
	})

	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.BackupAccessKey, cfg.BackupSecretKey, "")),
		config.WithRegion(cfg.BackupRegion),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

func uploadToS3(client *s3.Client, cfg BackupConfig, key string, data []byte) error {
	_, err := client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket: aws.String(cfg.BackupBucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

// rotateBackups behält die jüngsten KeepBackups Dumps und löscht den Rest.
// Es werden nur Objekte mit dem eigenen Backup-Prefix angefasst.
func rotateBackups(client *s3.Client, cfg BackupConfig) error {
	output, err := client.ListObjectsV2(context.TODO(), &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.BackupBucket),
		Prefix: aws.String(backupPrefix),
	})
	if err != nil {
		return err
	}

	backups := make([]backupObject, 0, len(output.Contents))
	for _, obj := range output.Contents {
		if obj.Key != nil && strings.HasPrefix(*obj.Key, backupPrefix) {
			backups = append(backups, backupObject{key: *obj.Key, modified: *obj.LastModified})
		}
	}

	if len(backups) <= cfg.KeepBackups {
		log.Printf("Höchstens %d Backups vorhanden, keine Rotation nötig.", cfg.KeepBackups)
		return nil
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].modified.After(backups[j].modified)
	})

	for _, obj := range backups[cfg.KeepBackups:] {
		log.Printf("Lösche altes Backup: %s", obj.key)
		_, err := client.DeleteObject(context.TODO(), &s3.DeleteObjectInput{
			Bucket: aws.String(cfg.BackupBucket),
			Key:    aws.String(obj.key),
		})
		if err != nil {
			log.Printf("Fehler beim Löschen von %s: %v", obj.key, err)
		}
	}

	return nil
}

type backupObject struct {
	key      string
	modified time.Time
}
