package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"warden/internal/config"
	"warden/internal/modules/audit"
	"warden/internal/music"

	"github.com/bwmarrin/discordgo"
)

// statusSink renders playback status as embeds in the session's text channel.
type statusSink struct {
	session *discordgo.Session
	colors  config.EmbedColors
	audit   *audit.Logger
}

func newStatusSink(session *discordgo.Session, colors config.EmbedColors, auditLogger *audit.Logger) *statusSink {
	return &statusSink{session: session, colors: colors, audit: auditLogger}
}

func (s *statusSink) Send(ctx context.Context, channelID string, status music.Status) (music.MessageHandle, error) {
	if reason := teardownReason(status.Kind); reason != "" && s.audit != nil {
		details := reason
		if status.Err != nil {
			details += ": " + status.Err.Error()
		}
		s.audit.Log(ctx, audit.LevelInfo, status.GuildID, "", audit.EventMusicClosed, details)
	}
	msg, err := s.session.ChannelMessageSendEmbed(channelID, statusEmbed(status, s.colors))
	if err != nil {
		return music.MessageHandle{}, err
	}
	return music.MessageHandle{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

func (s *statusSink) Edit(ctx context.Context, handle music.MessageHandle, status music.Status) error {
	_, err := s.session.ChannelMessageEditEmbed(handle.ChannelID, handle.MessageID, statusEmbed(status, s.colors))
	return err
}

func (s *statusSink) Delete(ctx context.Context, handle music.MessageHandle) error {
	return s.session.ChannelMessageDelete(handle.ChannelID, handle.MessageID)
}

func teardownReason(kind music.StatusKind) string {
	switch kind {
	case music.StatusIdleDisconnect:
		return "idle"
	case music.StatusTransportFailed:
		return "voice connection failed"
	case music.StatusDisconnected:
		return "removed from voice"
	default:
		return ""
	}
}

func statusEmbed(status music.Status, colors config.EmbedColors) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Color:     colors.Music,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	switch status.Kind {
	case music.StatusNowPlaying:
		track := status.Entry.Track
		embed.Title = "Now playing"
		embed.Description = trackLink(track)
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "Duration", Value: track.DurationLabel(), Inline: true},
			{Name: "Volume", Value: fmt.Sprintf("%d%%", volumePercent(status.Volume)), Inline: true},
			{Name: "Loop", Value: status.Loop.String(), Inline: true},
		}
		if status.Entry.RequesterID != "" {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Requested by", Value: "<@" + status.Entry.RequesterID + ">", Inline: true})
		}
		if status.Next != nil {
			next := status.Next.Track.Label()
			if status.Upcoming > 1 {
				next = fmt.Sprintf("%s (+%d more)", next, status.Upcoming-1)
			}
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Up next", Value: next, Inline: false})
		}
		if track.Thumbnail != "" {
			embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: track.Thumbnail}
		}
	case music.StatusQueueFinished:
		embed.Title = "Queue finished"
		embed.Description = "Add more with /play."
	case music.StatusTrackFailed:
		embed.Title = "Skipped a track"
		embed.Color = colors.Error
		embed.Description = fmt.Sprintf("%s could not be played: %s", trackLink(status.Entry.Track), errorText(status.Err))
	case music.StatusTransportFailed:
		embed.Title = "Playback stopped"
		embed.Color = colors.Error
		embed.Description = "Lost the voice connection: " + errorText(status.Err)
	case music.StatusIdleDisconnect:
		embed.Title = "Left the voice channel"
		embed.Description = "Nobody was listening."
	default:
		embed.Title = "Disconnected"
		embed.Description = "Removed from the voice channel, the queue was cleared."
	}
	return embed
}

func trackLink(track music.Track) string {
	label := escapeMarkdown(track.Label())
	if track.SourceURL == "" {
		return label
	}
	return "[" + label + "](" + track.SourceURL + ")"
}

var markdownEscaper = strings.NewReplacer("[", "\\[", "]", "\\]", "*", "\\*", "_", "\\_", "`", "\\`", "~", "\\~")

func escapeMarkdown(value string) string {
	return markdownEscaper.Replace(value)
}

func volumePercent(volume float64) int {
	return int(volume*100 + 0.5)
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
