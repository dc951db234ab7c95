// Command companion runs a headless client for a fila-live room. It mirrors
// the queue over the room's websocket and prints every inbound frame as a
// JSON line, so overlays and bots can follow a room without speaking the
// protocol themselves. With a token for the room's owner it can also claim
// the write lease, report the chat bridge status, and push manual entries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fila-live/internal/identity"
	"fila-live/internal/ledger"
	"fila-live/internal/models"
	"fila-live/internal/observability/logging"
	"fila-live/internal/protocol"
	"fila-live/internal/session"
)

const (
	selfSignedTTL = 24 * time.Hour
	settleTimeout = 30 * time.Second
)

type companionConfig struct {
	URL         string
	Room        string
	Token       string
	Secret      string
	Login       string
	DisplayName string

	Watch   bool
	Bridge  bool
	AddText string
	Donor   string

	LogLevel  string
	LogFormat string
}

func main() {
	_ = godotenv.Load()

	cfg, err := loadCompanionConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Writer: os.Stderr})

	token, err := resolveToken(cfg)
	if err != nil {
		logger.Error("failed to resolve credential", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess := session.New(session.Config{
		URL:       cfg.URL,
		Room:      cfg.Room,
		Token:     token,
		AutoClaim: !cfg.Watch,
		Logger:    logger,
		OnMessage: printFrame,
	})

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	if cfg.AddText != "" {
		if err := pushManualEntry(ctx, sess, cfg); err != nil {
			logger.Error("failed to push entry", "error", err)
			stop()
			<-done
			os.Exit(1)
		}
		logger.Info("entry queued", "room", cfg.Room, "donor", cfg.Donor)
		stop()
		<-done
		return
	}

	if cfg.Bridge {
		if err := waitUntil(ctx, sess.Owned); err == nil {
			if err := sess.ReportBridge(true); err != nil {
				logger.Warn("failed to report bridge status", "error", err)
			}
		}
	}

	err = <-done
	if cfg.Bridge && sess.Owned() {
		_ = sess.ReportBridge(false)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("session ended", "error", err)
		os.Exit(1)
	}
	logger.Info("companion stopped", "room", cfg.Room)
}

func loadCompanionConfig(args []string) (companionConfig, error) {
	fs := flag.NewFlagSet("companion", flag.ContinueOnError)

	url := fs.String("url", "", "room service websocket base URL, including the /ws prefix")
	roomName := fs.String("room", "", "room to join")
	token := fs.String("token", "", "identity token for the connection")
	secret := fs.String("secret", "", "HMAC secret used to self-sign a token")
	login := fs.String("login", "", "login to embed in a self-signed token")
	displayName := fs.String("display-name", "", "display name for a self-signed token")
	watch := fs.Bool("watch", false, "observe only, never claim the write lease")
	bridge := fs.Bool("bridge", false, "report the chat bridge as connected while running")
	addText := fs.String("add", "", "queue one manual entry with this message and exit")
	donor := fs.String("donor", "", "donor name attached to a manual entry")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "log output format (json or text)")

	if err := fs.Parse(args); err != nil {
		return companionConfig{}, err
	}
	if fs.NArg() > 0 {
		return companionConfig{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	cfg := companionConfig{
		URL:         firstNonEmpty(*url, os.Getenv("FILA_LIVE_URL"), "ws://localhost:8080/ws"),
		Room:        firstNonEmpty(*roomName, os.Getenv("FILA_LIVE_ROOM")),
		Token:       firstNonEmpty(*token, os.Getenv("FILA_LIVE_TOKEN")),
		Secret:      firstNonEmpty(*secret, os.Getenv("FILA_LIVE_IDENTITY_SECRET")),
		Login:       firstNonEmpty(*login, os.Getenv("FILA_LIVE_LOGIN")),
		DisplayName: firstNonEmpty(*displayName, os.Getenv("FILA_LIVE_DISPLAY_NAME")),
		Watch:       *watch,
		Bridge:      *bridge,
		AddText:     strings.TrimSpace(*addText),
		Donor:       firstNonEmpty(*donor, "companion"),
		LogLevel:    firstNonEmpty(*logLevel, os.Getenv("FILA_LIVE_LOG_LEVEL"), "info"),
		LogFormat:   firstNonEmpty(*logFormat, os.Getenv("FILA_LIVE_LOG_FORMAT")),
	}

	if cfg.Room == "" {
		return companionConfig{}, fmt.Errorf("a room is required, set --room or FILA_LIVE_ROOM")
	}
	if cfg.Watch && (cfg.Bridge || cfg.AddText != "") {
		return companionConfig{}, fmt.Errorf("--watch cannot be combined with --bridge or --add")
	}
	return cfg, nil
}

// resolveToken prefers an explicit token and falls back to self-signing with
// the shared identity secret, which is how a broadcaster's own tooling runs
// against its room.
func resolveToken(cfg companionConfig) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	if cfg.Secret == "" || cfg.Login == "" {
		if cfg.Watch {
			return "", nil
		}
		return "", fmt.Errorf("claiming a lease needs --token, or --secret together with --login")
	}
	signer := identity.NewHMACVerifier(cfg.Secret)
	return signer.Sign(identity.Claims{
		Subject:     cfg.Login,
		Login:       cfg.Login,
		DisplayName: firstNonEmpty(cfg.DisplayName, cfg.Login),
		ExpiresAt:   time.Now().Add(selfSignedTTL),
	})
}

func pushManualEntry(ctx context.Context, sess *session.Session, cfg companionConfig) error {
	if err := waitUntil(ctx, sess.Owned); err != nil {
		if last := sess.LastError(); last != nil {
			return last
		}
		return err
	}
	now := time.Now()
	return sess.Add(models.Request{
		ID:        ledger.DeterministicID(models.SourceManual, "", cfg.Donor, cfg.AddText, now),
		Donor:     cfg.Donor,
		Message:   cfg.AddText,
		Type:      models.CharacterUnknown,
		Source:    models.SourceManual,
		Timestamp: now.UnixMilli(),
	})
}

func waitUntil(ctx context.Context, cond func() bool) error {
	deadline, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if cond() {
			return nil
		}
		select {
		case <-deadline.Done():
			return deadline.Err()
		case <-ticker.C:
		}
	}
}

func printFrame(msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	fmt.Println(string(data))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
