// Command lira-server runs the notification backend.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainguard-dev/clog"

	"github.com/lira-edu/lira-backend/config"
	"github.com/lira-edu/lira-backend/keys"
	"github.com/lira-edu/lira-backend/notify"
	"github.com/lira-edu/lira-backend/onesignal"
	"github.com/lira-edu/lira-backend/pairing"
	"github.com/lira-edu/lira-backend/server"
	"github.com/lira-edu/lira-backend/storage"
	"github.com/lira-edu/lira-backend/users"
	"github.com/lira-edu/lira-backend/webpush"
)

func main() {
	log := clog.New(slog.NewJSONHandler(os.Stderr, nil))
	ctx := clog.WithLogger(context.Background(), log)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Errorf("server exited: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *clog.Logger) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	// Browsers hold the public half of this pair; losing it orphans every
	// registered subscription, so any key problem is fatal.
	var signer webpush.Signer
	var publicKey []byte
	if cfg.VAPIDKMSKey != "" {
		kmsSigner, err := keys.NewKMSSigner(ctx, cfg.VAPIDKMSKey)
		if err != nil {
			return err
		}
		signer, publicKey = kmsSigner, kmsSigner.PublicKey()
		log.Infof("using KMS VAPID signer %s", cfg.VAPIDKMSKey)
	} else {
		fileSigner, _, err := keys.LoadOrCreate(cfg.VAPIDKeysPath)
		if err != nil {
			return err
		}
		signer, publicKey = fileSigner, fileSigner.PublicKey()
		log.Infof("loaded VAPID keys from %s", cfg.VAPIDKeysPath)
	}

	subs, err := storage.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer subs.Close()

	userStore, err := users.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer userStore.Close()

	mobile := onesignal.New(cfg.OneSignalAppID, cfg.OneSignalAPIKey)
	if !mobile.Configured() {
		log.Warn("OneSignal credentials not set, mobile delivery disabled")
	}

	web := webpush.NewClient(signer, cfg.VAPIDSubject)
	engine := notify.NewEngine(web, mobile, subs).WithAttemptTimeout(cfg.SendTimeout)
	coord := notify.NewCoordinator(userStore, subs, engine)

	var codes pairing.Store
	if cfg.RedisAddr != "" {
		codes, err = pairing.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		log.Infof("pairing codes backed by redis at %s", cfg.RedisAddr)
	} else {
		codes = pairing.NewMemory()
	}
	defer codes.Close()

	srv := server.New(server.Options{
		Addr:          ":" + cfg.Port,
		JWTSecret:     cfg.JWTSecret,
		PublicKey:     publicKey,
		Subscriptions: subs,
		Users:         userStore,
		Coordinator:   coord,
		Pairing:       codes,
		PairingTTL:    cfg.PairingTTL,
		Logger:        log,
	})

	log.Infof("listening on :%s", cfg.Port)
	return srv.Run(ctx)
}
