// Package bot implements the Telegram surface of the subscription service.
//
//   - tgbot.go    — TgBot struct, lifecycle (Start/Stop), Core interface
//   - commands.go — user commands: /start, /status, /subscribe, /redeem, /help
//   - admin.go    — admin commands: /grant, /check
//   - callbacks.go — tier selection keyboard and its callback handler
//   - menus.go    — default command menu via the BotCommand API
//   - helpers.go  — Sanitize, plainResponse, requireAdmin
//
// The bot is also the notifier for level changes: whichever path applied
// a transition (webhook, poll, promocode, expiry, admin) ends up in
// LevelChanged, which sends the user a message. Delivery is best-effort;
// the entitlement write has already committed.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"

	"clanity/entity"
	"clanity/internal/config"
	"clanity/lib/sl"
)

// Core is the slice of the orchestrator the bot depends on.
// Implemented by impl/core.
type Core interface {
	Register(ctx context.Context, userId int64, username string) (*entity.Entitlement, error)
	Entitlement(ctx context.Context, userId int64) (*entity.Entitlement, error)
	CheckSubscription(ctx context.Context, userId int64) (entity.Tier, bool, error)
	SubscriptionLink(ctx context.Context, userId int64, tier entity.Tier, amount int64) (*entity.InvoiceRef, error)
	RedeemPromocode(ctx context.Context, userId int64, username, code string) (entity.RedeemResult, error)
	Grant(ctx context.Context, userId int64, tier entity.Tier) error
}

type TgBot struct {
	log      *slog.Logger
	api      *tgbotapi.Bot
	core     Core
	adminIds []int64
	prices   map[string]int64
	updater  *ext.Updater
}

func NewTgBot(conf *config.Config, core Core, log *slog.Logger) (*TgBot, error) {
	tgBot := &TgBot{
		log:      log.With(sl.Module("tgbot")),
		core:     core,
		adminIds: conf.Bot.AdminIds,
		prices:   conf.Subscription.Prices(),
	}

	api, err := tgbotapi.NewBot(conf.Bot.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	tgBot.api = api

	return tgBot, nil
}

func (t *TgBot) Start() error {
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(b *tgbotapi.Bot, ctx *ext.Context, err error) ext.DispatcherAction {
			t.log.Error("handling update:", sl.Err(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	t.updater = ext.NewUpdater(dispatcher, nil)

	// User commands
	dispatcher.AddHandler(handlers.NewCommand("start", t.start))
	dispatcher.AddHandler(handlers.NewCommand("status", t.status))
	dispatcher.AddHandler(handlers.NewCommand("subscribe", t.subscribe))
	dispatcher.AddHandler(handlers.NewCommand("redeem", t.redeem))
	dispatcher.AddHandler(handlers.NewCommand("help", t.help))

	// Admin commands
	dispatcher.AddHandler(handlers.NewCommand("grant", t.grant))
	dispatcher.AddHandler(handlers.NewCommand("check", t.check))

	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbTier), t.onTierCallback))

	t.setDefaultCommands()

	err := t.updater.StartPolling(t.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &tgbotapi.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &tgbotapi.RequestOpts{
				Timeout: time.Second * 10,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start polling: %w", err)
	}

	t.updater.Idle()
	return nil
}

func (t *TgBot) Stop() {
	if t.updater != nil {
		t.log.Info("stopping telegram bot")
		t.updater.Stop()
	}
}

// LevelChanged notifies the user about an applied transition.
func (t *TgBot) LevelChanged(change entity.LevelChange) {
	var text string
	switch {
	case change.NewLevel == entity.TierNonSubscribed:
		text = fmt.Sprintf(
			"Your *%s* access has ended\\. Use /subscribe to keep going\\.",
			Sanitize(change.OldLevel.String()),
		)
	case change.NewLevel == entity.TierPromo:
		text = "Promocode accepted\\! Promo access is now active\\."
	default:
		text = fmt.Sprintf(
			"Your subscription is active: *%s*\\. Enjoy\\!",
			Sanitize(change.NewLevel.String()),
		)
	}
	t.plainResponse(change.UserId, text)
}
