// Package sms delivers verification codes to phones.
//
// No carrier integration ships with the server. Sandbox deployments use
// LogSender, which writes the code to the log; everything else uses
// Disabled.
package sms

import (
	"context"
	"log/slog"

	"github.com/sakif/collar-auth/internal/apperror"
)

// Channel is the channel name reported in ChannelUnavailable errors.
const Channel = "sms"

// Sender delivers a verification code to a phone.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// LogSender logs codes instead of sending them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender writing to logger.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the code at info level.
func (s *LogSender) Send(ctx context.Context, phone, code string) error {
	s.logger.InfoContext(ctx, "sandbox sms code",
		slog.String("phone", phone),
		slog.String("code", code),
	)
	return nil
}

// Disabled refuses every send.
type Disabled struct{}

// Send always returns ErrChannelUnavailable.
func (Disabled) Send(context.Context, string, string) error {
	return apperror.ChannelUnavailable(Channel)
}
