package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/2beens/gymweb/internal"
	"github.com/2beens/gymweb/internal/config"
	"github.com/2beens/gymweb/internal/logging"
	"github.com/2beens/gymweb/pkg"

	log "github.com/sirupsen/logrus"
)

func main() {
	fmt.Println("starting ...")

	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	flag.Parse()

	log.Warnf("---->> running in [%s] environment", *env)

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		panic(err)
	}

	secrets, err := config.LoadSecrets()
	if err != nil {
		panic(err)
	}

	logging.Setup(logging.LoggerSetupParams{
		LogFileName:      cfg.LogsPath,
		LogToStdout:      cfg.LogToStdout,
		LogLevel:         cfg.LogLevel,
		LogFormatJSON:    cfg.LogFormatJSON,
		Environment:      cfg.Environment,
		SentryEnabled:    cfg.SentryEnabled,
		SentryDSN:        secrets.SentryDSN,
		SentryServerName: "gymweb",
	})

	log.Debugf("using port: %d", cfg.Port)
	log.Debugf("using logs path: [%s]", cfg.LogsPath)
	log.Debugf("backend api: [%s], session storage: [%s]", cfg.ApiBaseURL, cfg.StorageBackend)

	if cfg.RedisEnabled() && secrets.RedisPassword == "" {
		log.Warnln("redis password not set. use GYMWEB_REDIS_PASS")
	}
	if cfg.StorageBackend == config.StoragePostgres && secrets.PostgresPassword == "" {
		log.Warnln("postgres password not set. use GYMWEB_POSTGRES_PASS")
	}
	if cfg.SentryEnabled && secrets.SentryDSN == "" {
		log.Errorln("sentry enabled, but SENTRY_DSN env var not set")
	}

	if cfg.StorageBackend == config.StorageFile {
		exists, err := pkg.PathExists(cfg.StorageFilePath, false)
		if err != nil {
			log.Fatalf("check session storage file: %s", err)
		}
		log.Debugf("session storage file [%s] exists: %t", cfg.StorageFilePath, exists)
	}

	if secrets.HoneycombEnabled {
		if secrets.HoneycombAPIKey == "" {
			log.Warnln("HONEYCOMB_API_KEY env var not set")
		}
	} else {
		log.Debugln("honeycomb tracing disabled")
	}

	versionInfo, err := tryGetLastCommitHash()
	if err != nil {
		log.Tracef("failed to get last commit hash / version info: %s", err)
	} else {
		log.Tracef("running version: %s", versionInfo)
	}

	chOsInterrupt := make(chan os.Signal, 1)
	signal.Notify(chOsInterrupt, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())

	server, err := internal.NewServer(
		ctx,
		internal.NewServerParams{
			Config:      cfg,
			Secrets:     secrets,
			VersionInfo: versionInfo,
		},
	)
	if err != nil {
		log.Fatalf("new server: %s", err)
	}

	if err := server.Serve(ctx, cfg.Host, cfg.Port); err != nil {
		cancel()
		server.GracefulShutdown()
		log.Fatalf("serve: %s", err)
	}

	receivedSig := <-chOsInterrupt
	log.Warnf("signal [%s] received, shutting down ...", receivedSig)
	cancel()

	server.GracefulShutdown()
}

// tryGetLastCommitHash will try to get the last commit hash
// assumes that the built main executable is in project root
func tryGetLastCommitHash() (string, error) {
	cmd := exec.Command("/usr/bin/git", "rev-parse", "HEAD")
	stdout, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(pkg.BytesToString(stdout)), nil
}
