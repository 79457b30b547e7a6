package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"clanity/entity"
)

const cbTier = "tier:"

var purchaseOrder = []entity.Tier{entity.TierOne, entity.TierTwo, entity.TierThree}

func (t *TgBot) tierKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, tier := range purchaseOrder {
		amount, ok := t.prices[tier.String()]
		if !ok {
			continue
		}
		rows = append(rows, []tgbotapi.InlineKeyboardButton{{
			Text:         fmt.Sprintf("%s - %.2f", tier, float64(amount)/100),
			CallbackData: cbTier + tier.String(),
		}})
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// onTierCallback creates the invoice for the chosen tier and replies with
// the payment link.
func (t *TgBot) onTierCallback(b *tgbotapi.Bot, ctx *ext.Context) error {
	query := ctx.CallbackQuery
	chatId := ctx.EffectiveChat.Id

	code := strings.TrimPrefix(query.Data, cbTier)
	tier, err := entity.ParseTierCode(code)
	if err != nil {
		_, _ = query.Answer(b, &tgbotapi.AnswerCallbackQueryOpts{Text: "Unknown plan"})
		return nil
	}
	amount, ok := t.prices[tier.String()]
	if !ok {
		_, _ = query.Answer(b, &tgbotapi.AnswerCallbackQueryOpts{Text: "Plan unavailable"})
		return nil
	}

	callCtx, cancel := commandContext()
	defer cancel()

	ref, err := t.core.SubscriptionLink(callCtx, chatId, tier, amount)
	if err != nil {
		_, _ = query.Answer(b, &tgbotapi.AnswerCallbackQueryOpts{Text: "Try again later"})
		t.reportError(chatId, "subscribe", err)
		return nil
	}
	_, _ = query.Answer(b, nil)

	t.plainResponse(chatId, fmt.Sprintf(
		"Pay for *%s* here:\n%s\n\nUse /status after paying\\.",
		Sanitize(tier.String()), Sanitize(ref.PayLink),
	))
	return nil
}
