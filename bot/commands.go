package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"clanity/entity"
)

const commandTimeout = 15 * time.Second

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}

// start records first contact. A new user gets the trial level; a
// returning user keeps whatever they have.
func (t *TgBot) start(b *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveChat.Id
	username := ctx.EffectiveUser.Username

	callCtx, cancel := commandContext()
	defer cancel()

	ent, err := t.core.Register(callCtx, chatId, username)
	if err != nil {
		t.reportError(chatId, "start", err)
		return nil
	}

	if ent.Level == entity.TierTrial {
		t.plainResponse(chatId, fmt.Sprintf(
			"Welcome\\! Your free trial is active\\.\nCurrent level: *%s*",
			Sanitize(ent.Level.String()),
		))
	} else {
		t.plainResponse(chatId, fmt.Sprintf(
			"Welcome back\\!\nCurrent level: *%s*",
			Sanitize(ent.Level.String()),
		))
	}
	return nil
}

// status runs a full validity check: stored level plus, when needed, a
// sweep over recent unresolved purchases.
func (t *TgBot) status(b *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveChat.Id

	callCtx, cancel := commandContext()
	defer cancel()

	level, valid, err := t.core.CheckSubscription(callCtx, chatId)
	if err != nil {
		t.reportError(chatId, "status", err)
		return nil
	}

	state := "inactive"
	if valid {
		state = "active"
	}
	t.plainResponse(chatId, fmt.Sprintf(
		"Level: *%s*\nAccess: *%s*",
		Sanitize(level.String()), state,
	))
	return nil
}

func (t *TgBot) subscribe(b *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveChat.Id
	t.sendWithKeyboard(chatId, "Choose a plan:", t.tierKeyboard())
	return nil
}

// redeem handles "/redeem CODE".
func (t *TgBot) redeem(b *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveChat.Id
	username := ctx.EffectiveUser.Username

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 2 {
		t.plainResponse(chatId, "Usage: `/redeem CODE`")
		return nil
	}
	code := args[1]

	callCtx, cancel := commandContext()
	defer cancel()

	result, err := t.core.RedeemPromocode(callCtx, chatId, username, code)
	if err != nil {
		t.reportError(chatId, "redeem", err)
		return nil
	}

	switch result {
	case entity.RedeemGranted:
		// LevelChanged sends the confirmation
	case entity.RedeemAlreadyHasPromo:
		t.plainResponse(chatId, "You already have promo access\\.")
	case entity.RedeemExhausted:
		t.plainResponse(chatId, "This code has no activations left\\.")
	default:
		t.plainResponse(chatId, "Unknown promocode\\.")
	}
	return nil
}

func (t *TgBot) help(b *tgbotapi.Bot, ctx *ext.Context) error {
	text := "/start \\- begin, activates the free trial\n" +
		"/status \\- show your subscription level\n" +
		"/subscribe \\- buy a subscription\n" +
		"/redeem CODE \\- redeem a promocode\n" +
		"/help \\- this message"
	t.plainResponse(ctx.EffectiveChat.Id, text)
	return nil
}
