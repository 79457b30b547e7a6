package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"clanity/entity"
)

// grant handles "/grant USER_ID TIER". The write goes through the same
// monotonic apply as every other transition.
func (t *TgBot) grant(b *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveChat.Id
	if !t.requireAdmin(chatId) {
		return nil
	}

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 3 {
		t.plainResponse(chatId, "Usage: `/grant USER\\_ID TIER`")
		return nil
	}
	userId, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		t.plainResponse(chatId, "Invalid user id\\.")
		return nil
	}
	tier := entity.Tier(strings.ToUpper(args[2]))
	if !tier.Known() {
		t.plainResponse(chatId, "Unknown tier\\.")
		return nil
	}

	callCtx, cancel := commandContext()
	defer cancel()

	if err = t.core.Grant(callCtx, userId, tier); err != nil {
		t.reportError(chatId, "grant", err)
		return nil
	}
	t.plainResponse(chatId, fmt.Sprintf(
		"Granted *%s* to `%d`\\.", Sanitize(tier.String()), userId,
	))
	return nil
}

// check handles "/check USER_ID": stored level without a provider call.
func (t *TgBot) check(b *tgbotapi.Bot, ctx *ext.Context) error {
	chatId := ctx.EffectiveChat.Id
	if !t.requireAdmin(chatId) {
		return nil
	}

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 2 {
		t.plainResponse(chatId, "Usage: `/check USER\\_ID`")
		return nil
	}
	userId, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		t.plainResponse(chatId, "Invalid user id\\.")
		return nil
	}

	callCtx, cancel := commandContext()
	defer cancel()

	ent, err := t.core.Entitlement(callCtx, userId)
	if err != nil {
		t.reportError(chatId, "check", err)
		return nil
	}
	t.plainResponse(chatId, fmt.Sprintf(
		"User `%d`\nLevel: *%s*\nSince: `%s`",
		ent.UserId,
		Sanitize(ent.Level.String()),
		Sanitize(ent.EffectiveSince.Format("2006-01-02 15:04:05")),
	))
	return nil
}
