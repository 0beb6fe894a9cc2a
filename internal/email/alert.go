package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Deliver sends the alert to every recipient and joins the failures.
func Deliver(ctx context.Context, sender EmailSender, recipients []string, alert AlertEmail, from string) error {
	if sender == nil {
		return fmt.Errorf("email sender is required")
	}
	var errs []error
	for _, recipient := range recipients {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := sender.SendFrom(ctx, recipient, alert.Subject, alert.Body, from); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", recipient, err))
		}
	}
	return errors.Join(errs...)
}

// SendAlert delivers in the background on a context detached from ctx's cancellation.
// The returned channel receives the delivery result and is then closed.
func SendAlert(ctx context.Context, sender EmailSender, recipients []string, alert AlertEmail, from string, timeout time.Duration, logger *zerolog.Logger) <-chan error {
	if logger == nil {
		logger = &log.Logger
	}
	done := make(chan error, 1)
	if sender == nil || len(recipients) == 0 {
		close(done)
		return done
	}

	sendCtx, cancel := newEmailContext(ctx, timeout)
	go func() {
		defer close(done)
		defer cancel()
		err := Deliver(sendCtx, sender, recipients, alert, from)
		if err != nil {
			logger.Error().
				Err(err).
				Str("subject", alert.Subject).
				Int("recipients", len(recipients)).
				Msg("Failed to send staff alert")
		}
		done <- err
	}()
	return done
}
