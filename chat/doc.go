// Package chat is the bot's Twitch chat surface.
//
// Client holds the IRC connection (github.com/gempir/go-twitch-irc/v4) to the
// configured channels. Each channel is one guild: it has its own prefix, tags
// and disabled state in the guilds table. Client also sets the status line,
// which on Twitch is the broadcaster's stream title, through Helix.
//
// Dispatcher turns a chat line into a command run: the line must start with
// the guild prefix (default "&") or an @mention of the bot, name a registered
// command, and come from a channel that is not disabled. Moderator-only
// commands check the broadcaster and moderator badges. Every run increments
// the command's global counter.
package chat
