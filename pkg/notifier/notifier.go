// Package notifier announces finalized events to an external collaborator:
// a short text message plus an optional file path. Notifier errors are
// logged and never retried.
package notifier

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// Notifier announces an event. filePath may be empty when there is
// nothing to attach.
type Notifier interface {
	Notify(message string, filePath string) error
}

// DiscordNotifier posts event notifications to a Discord channel via a bot
// token: bot login, channel send with an optional file attachment.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	log       zerolog.Logger
}

// NewDiscordNotifier logs into Discord with botToken and targets channelID.
// The session is opened once and reused for every notification.
func NewDiscordNotifier(botToken, channelID string, log zerolog.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("notifier: creating discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("notifier: opening discord session: %w", err)
	}
	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
		log:       log.With().Str("component", "notifier").Logger(),
	}, nil
}

// Notify sends message to the configured channel, attaching the file at
// filePath if one is given. A send failure is logged and returned; callers
// must not retry.
func (d *DiscordNotifier) Notify(message string, filePath string) error {
	if filePath == "" {
		_, err := d.session.ChannelMessageSend(d.channelID, message)
		if err != nil {
			return fmt.Errorf("notifier: sending message: %w", err)
		}
		return nil
	}

	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("notifier: opening attachment %q: %w", filePath, err)
	}
	defer f.Close()

	_, err = d.session.ChannelMessageSendComplex(d.channelID, &discordgo.MessageSend{
		Content: message,
		Files: []*discordgo.File{
			{Name: filepath.Base(filePath), Reader: f},
		},
	})
	if err != nil {
		return fmt.Errorf("notifier: sending message with attachment: %w", err)
	}
	return nil
}

// Close logs out of the Discord session.
func (d *DiscordNotifier) Close() error {
	return d.session.Close()
}

// NopNotifier discards every notification; it backs tests and deployments
// with notifications disabled.
type NopNotifier struct{}

func (NopNotifier) Notify(string, string) error { return nil }

// RecordingNotifier is a deterministic test fake recording every call,
// so supervisor tests can assert a notification was (or was not) sent.
type RecordingNotifier struct {
	Messages []RecordedNotification
}

// RecordedNotification captures one Notify call's arguments.
type RecordedNotification struct {
	Message  string
	FilePath string
}

func (r *RecordingNotifier) Notify(message string, filePath string) error {
	r.Messages = append(r.Messages, RecordedNotification{Message: message, FilePath: filePath})
	return nil
}
