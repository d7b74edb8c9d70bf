package notifier

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"kcl-antivirus/internal/guild"
	"kcl-antivirus/internal/logging"
)

// Notifier posts embeds through the guild action surface and never fails the caller
type Notifier struct {
	actions guild.Actions
}

func New(actions guild.Actions) *Notifier {
	return &Notifier{actions: actions}
}

// Post sends content and embed to channelID. An empty channel is SkippedUnconfigured.
func (n *Notifier) Post(ctx context.Context, channelID, content string, embed *discordgo.MessageEmbed) guild.Outcome {
	if channelID == "" {
		return guild.OutcomeSkippedUnconfigured
	}

	_, err := n.actions.SendChannel(ctx, channelID, &discordgo.MessageSend{
		Content: content,
		Embeds:  []*discordgo.MessageEmbed{embed},
	})
	outcome := guild.Classify(err)
	if err != nil {
		logging.Warn("[NOTIFIER] Failed to post %q to channel %s: %s (%v)", embed.Title, channelID, outcome, err)
	}
	return outcome
}

// Direct sends embed to a user's DMs
func (n *Notifier) Direct(ctx context.Context, userID string, embed *discordgo.MessageEmbed) guild.Outcome {
	err := n.actions.SendDirect(ctx, userID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}})
	outcome := guild.Classify(err)
	if err != nil {
		logging.Debug("[NOTIFIER] Could not DM user %s: %s (%v)", userID, outcome, err)
	}
	return outcome
}
