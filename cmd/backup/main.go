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
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"content-forge/config"
	"content-forge/storage"
)

// rotationConfig sind die Backup-eigenen Knöpfe; DB- und S3-Zugang kommen
// aus der regulären Service-Konfiguration.
type rotationConfig struct {
	Prefix   string `envconfig:"BACKUP_S3_PREFIX" default:"content-forge"`
	KeepDays int    `envconfig:"BACKUP_KEEP_DAYS" default:"7"`
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Config load error", zap.Error(err))
	}
	var rot rotationConfig
	if err := envconfig.Process("", &rot); err != nil {
		logger.Fatal("Backup config error", zap.Error(err))
	}
	if cfg.S3Bucket == "" {
		logger.Fatal("S3_BUCKET muss für Backups gesetzt sein")
	}

	logger.Info("Starte Backup-Prozess...",
		zap.String("database", cfg.DBName),
		zap.String("bucket", cfg.S3Bucket),
		zap.String("prefix", rot.Prefix))

	dump, err := createDump(cfg)
	if err != nil {
		logger.Fatal("DB-Dump fehlgeschlagen", zap.Error(err))
	}
	logger.Info("Dump erstellt", zap.Int("bytes_gz", len(dump)))

	client, err := storage.NewS3Client(cfg)
	if err != nil {
		logger.Fatal("S3-Client konnte nicht erstellt werden", zap.Error(err))
	}

	key := fmt.Sprintf("%s/backup-%s.sql.gz", rot.Prefix, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	if _, err := storage.UploadFile(client, cfg.S3Bucket, key, dump, cfg); err != nil {
		logger.Fatal("Upload nach S3 fehlgeschlagen", zap.Error(err))
	}
	logger.Info("Backup hochgeladen", zap.String("key", key))

	deleted, err := storage.DeleteOldBackups(context.Background(), client, cfg.S3Bucket, rot.Prefix+"/", rot.KeepDays)
	if err != nil {
		logger.Fatal("Rotation alter Backups fehlgeschlagen", zap.Error(err))
	}
	logger.Info("Backup-Prozess abgeschlossen",
		zap.Int("rotated", deleted),
		zap.Int("keep_days", rot.KeepDays))
}

// createDump ruft pg_dump auf und komprimiert den Stream direkt mit gzip.
// Das Passwort geht über PGPASSWORD, nie über die Kommandozeile.
func createDump(cfg *config.Config) ([]byte, error) {
	cmd := exec.Command("pg_dump",
		"-h", cfg.DBHost,
		"-p", strconv.Itoa(cfg.DBPort),
		"-U", cfg.DBUser,
		"-d", cfg.DBName,
		"-w",
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+cfg.DBPassword)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := io.Copy(gz, stdout); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
