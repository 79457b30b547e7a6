package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"clanity/bot"
	"clanity/impl/auth"
	"clanity/impl/core"
	"clanity/impl/expiry"
	"clanity/impl/promo"
	"clanity/impl/reconcile"
	"clanity/internal/archive"
	"clanity/internal/config"
	"clanity/internal/http-server/api"
	"clanity/internal/storage"
	"clanity/internal/stripeclient"
	"clanity/lib/cache"
	"clanity/lib/logger"
	"clanity/lib/sl"
)

const logFileName = "clanity.log"

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	logg := logger.SetupLogger(conf.Env, filepath.Join(*logPath, logFileName))
	logg.Info("starting clanity", slog.String("config", *configPath), slog.String("env", conf.Env))

	store, err := storage.NewSQLClient(conf)
	if err != nil {
		log.Fatal("storage: ", err)
	}
	defer store.Close()

	validity := cache.NewValidity(time.Duration(conf.Subscription.CacheTTLSeconds) * time.Second)
	validity.StartJanitor(time.Minute)
	defer validity.Stop()

	gateway := stripeclient.New(conf, logg)

	reconciler := reconcile.New(store, gateway, validity, conf.Subscription.WindowDays, logg)
	redeemer := promo.New(store, validity, logg)
	scheduler := expiry.New(store, validity, conf, logg)

	// the archive is optional; a nil concrete pointer must not end up
	// behind a non-nil interface
	if mongo := archive.NewMongoClient(conf); mongo != nil {
		reconciler.SetArchive(mongo)
		scheduler.SetArchive(mongo)
	}

	handler := core.New(store, gateway, reconciler, redeemer, logg)
	handler.SetAuthService(auth.New(store))

	var tgBot *bot.TgBot
	if conf.Bot.Enabled {
		tgBot, err = bot.NewTgBot(conf, handler, logg)
		if err != nil {
			logg.Error("telegram bot init", sl.Err(err))
		} else {
			reconciler.SetNotifier(tgBot)
			redeemer.SetNotifier(tgBot)
			scheduler.SetNotifier(tgBot)
			go func() {
				if err := tgBot.Start(); err != nil {
					logg.Error("telegram bot", sl.Err(err))
				}
			}()
		}
	}

	scheduler.Start()

	server := api.New(conf, logg, handler)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error("api server", sl.Err(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logg.Info("shutting down")
	scheduler.Stop()
	if tgBot != nil {
		tgBot.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = server.Shutdown(shutdownCtx); err != nil {
		logg.Error("server shutdown", sl.Err(err))
	}
}
