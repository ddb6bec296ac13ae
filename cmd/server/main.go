package main

import (
	"context"
	"net"
	"net/smtp"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/org/healthgate/internal/api"
	"github.com/org/healthgate/internal/audit"
	"github.com/org/healthgate/internal/auth"
	"github.com/org/healthgate/internal/clinical"
	"github.com/org/healthgate/internal/crypto"
	"github.com/org/healthgate/internal/idp"
	"github.com/org/healthgate/internal/mail"
	"github.com/org/healthgate/internal/mfa"
	"github.com/org/healthgate/internal/storage"
)

type config struct {
	ListenAddr    string `yaml:"listen_addr"`
	TLSCertFile   string `yaml:"tls_cert"`
	TLSKeyFile    string `yaml:"tls_key"`
	DBUrl         string `yaml:"db_url"`
	MigrationsDir string `yaml:"migrations_dir"`
	LogLevel      string `yaml:"log_level"`

	TokenIssuer  string `yaml:"token_issuer"`
	JWKSURL      string `yaml:"jwks_url"`
	TokenHMACKey string `yaml:"token_hmac_key"` // development only

	IDPBaseURL      string `yaml:"idp_base_url"`
	IDPClientID     string `yaml:"idp_client_id"`
	IDPClientSecret string `yaml:"idp_client_secret"`

	MFATicketSecret string `yaml:"mfa_ticket_secret"`
	FieldKeySecret  string `yaml:"field_key_secret"`

	SMTPAddr     string `yaml:"smtp_addr"`
	SMTPFrom     string `yaml:"smtp_from"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`

	RPDisplayName string   `yaml:"rp_display_name"`
	RPID          string   `yaml:"rp_id"`
	RPOrigins     []string `yaml:"rp_origins"`

	AuditWriteTimeoutSec int `yaml:"audit_write_timeout_sec"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("HEALTHGATE_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:    ":8300",
		MigrationsDir: "migrations",
		LogLevel:      "info",
		TokenIssuer:   "healthgate-idp",
		RPDisplayName: "HealthGate",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost:3000"},
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("HEALTHGATE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("HEALTHGATE_FIELD_KEY"); v != "" {
		cfg.FieldKeySecret = v
	}
	if v := os.Getenv("HEALTHGATE_TICKET_SECRET"); v != "" {
		cfg.MFATicketSecret = v
	}
	if v := os.Getenv("HEALTHGATE_IDP_SECRET"); v != "" {
		cfg.IDPClientSecret = v
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.DBUrl == "" {
		log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
	}
	if cfg.FieldKeySecret == "" {
		log.Fatal().Msg("field_key_secret must be configured (or HEALTHGATE_FIELD_KEY env var)")
	}
	if cfg.MFATicketSecret == "" {
		log.Fatal().Msg("mfa_ticket_secret must be configured (or HEALTHGATE_TICKET_SECRET env var)")
	}
	if cfg.JWKSURL == "" && cfg.TokenHMACKey == "" {
		log.Fatal().Msg("jwks_url must be configured")
	}
	if cfg.TokenHMACKey != "" {
		log.Warn().Msg("token_hmac_key set: HMAC token verification is for development only")
	}

	ctx := context.Background()

	// Connect to database
	store, err := storage.NewPostgresStore(ctx, cfg.DBUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	// Run migrations
	if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("migrations applied")

	verifier := auth.NewVerifier(auth.VerifierConfig{
		Issuer:     cfg.TokenIssuer,
		JWKSURL:    cfg.JWKSURL,
		SigningKey: []byte(cfg.TokenHMACKey),
	})

	provider := idp.NewHTTPProvider(idp.Config{
		BaseURL:      cfg.IDPBaseURL,
		ClientID:     cfg.IDPClientID,
		ClientSecret: cfg.IDPClientSecret,
	})
	sessions := auth.NewSessionIssuer(provider, store, []byte(cfg.MFATicketSecret))

	var mailer mail.Mailer
	if cfg.SMTPAddr != "" {
		var smtpAuth smtp.Auth
		if cfg.SMTPUser != "" {
			host := cfg.SMTPAddr
			if h, _, err := net.SplitHostPort(cfg.SMTPAddr); err == nil {
				host = h
			}
			smtpAuth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, host)
		}
		mailer = mail.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPFrom, smtpAuth)
	} else {
		log.Warn().Msg("smtp_addr not set, OTP codes will be written to the log")
		mailer = mail.LogMailer{}
	}
	otp := mfa.NewOTPService(store, mailer)

	webauthnSvc, err := mfa.NewWebAuthnService(store, mfa.WebAuthnConfig{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure webauthn")
	}

	cipher, err := crypto.NewFieldCipher(cfg.FieldKeySecret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to derive field key")
	}
	clinicalSvc := clinical.NewService(store, cipher)

	auditor := audit.NewRecorder(store, time.Duration(cfg.AuditWriteTimeoutSec)*time.Second)

	srv := api.NewServer(api.Deps{
		Store:    store,
		Verifier: verifier,
		Sessions: sessions,
		OTP:      otp,
		WebAuthn: webauthnSvc,
		Clinical: clinicalSvc,
		Auditor:  auditor,
	}, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
	})

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
