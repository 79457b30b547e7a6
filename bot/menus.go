package bot

import (
	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"

	"clanity/lib/sl"
)

func (t *TgBot) setDefaultCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "start", Description: "Begin and activate the free trial"},
		{Command: "status", Description: "Show subscription level"},
		{Command: "subscribe", Description: "Buy a subscription"},
		{Command: "redeem", Description: "Redeem a promocode"},
		{Command: "help", Description: "List commands"},
	}
	_, err := t.api.SetMyCommands(commands, nil)
	if err != nil {
		t.log.Warn("setting default commands", sl.Err(err))
	}
}
