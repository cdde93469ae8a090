// Package sender доставка уведомлений о подписке по электронной почте.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/magabrotheeeer/gateway-keeper/internal/lib/sl"
	"github.com/magabrotheeeer/gateway-keeper/internal/lib/smtp"
	"github.com/magabrotheeeer/gateway-keeper/internal/models"
)

var (
	// ErrMalformed тело сообщения не разбирается.
	ErrMalformed = errors.New("malformed notification")
	// ErrUnknownKind неизвестный тип уведомления.
	ErrUnknownKind = errors.New("unknown notification kind")
)

type SenderService struct {
	transport smtp.TransportInterface
	loc       *time.Location
	log       *slog.Logger
}

// NewSenderService создает новый экземпляр SenderService. Даты в письмах
// выводятся в часовом поясе loc.
func NewSenderService(transport smtp.TransportInterface, loc *time.Location, log *slog.Logger) *SenderService {
	if loc == nil {
		loc = time.UTC
	}
	return &SenderService{
		transport: transport,
		loc:       loc,
		log:       log,
	}
}

// SendNotification разбирает уведомление и отправляет письмо абоненту.
// Абоненты без адреса пропускаются.
func (s *SenderService) SendNotification(ctx context.Context, body []byte) error {
	const op = "sender.SendNotification"
	var n models.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrMalformed, err)
	}
	log := s.log.With(slog.String("op", op), slog.String("kind", n.Kind), slog.String("identity", n.IdentityUUID))

	subject, text, err := s.compose(n)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n.Email == "" {
		log.Debug("identity has no email, skipping")
		return nil
	}
	if err := s.sendEmail(ctx, []string{n.Email}, subject, text); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info("email sent successfully")
	return nil
}

func (s *SenderService) compose(n models.Notification) (string, string, error) {
	expires := n.ExpiresAt.In(s.loc).Format("02.01.2006 15:04")
	switch n.Kind {
	case models.NotifyReminderUpcoming:
		return "Подписка скоро закончится",
			fmt.Sprintf("Здравствуйте!\n\nВаша подписка (%s) действует до %s, осталось меньше суток.\n\nПродлите её заранее, чтобы доступ не прервался.",
				n.Plan, expires), nil
	case models.NotifyReminderToday:
		return "Подписка заканчивается сегодня",
			fmt.Sprintf("Здравствуйте!\n\nВаша подписка (%s) заканчивается сегодня в %s.\n\nЕсли вы решите её продлить, оплатите новый период.",
				n.Plan, expires), nil
	case models.NotifyExpired:
		return "Подписка закончилась",
			fmt.Sprintf("Здравствуйте!\n\nСрок вашей подписки (%s) истёк %s, доступ приостановлен.\n\nОплатите новый период, чтобы восстановить доступ.",
				n.Plan, expires), nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnknownKind, n.Kind)
}

func (s *SenderService) sendEmail(ctx context.Context, to []string, subject, bodyText string) error {
	from := s.transport.GetSMTPUser()
	msg := strings.Join([]string{
		"From: " + from,
		"To: " + strings.Join(to, ";"),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
		"",
		bodyText,
	}, "\r\n")

	client, err := s.transport.Connect(ctx)
	if err != nil {
		s.log.Error("Failed to connect to SMTP server", sl.Err(err))
		return err
	}
	defer client.Close()

	if err := client.Mail(from); err != nil {
		s.log.Error("Failed to set MAIL FROM", slog.String("from", from), sl.Err(err))
		return err
	}
	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			s.log.Error("Failed to set RCPT TO", slog.String("recipient", addr), sl.Err(err))
			return err
		}
	}

	wc, err := client.Data()
	if err != nil {
		s.log.Error("Failed to get Data writer", sl.Err(err))
		return err
	}
	if _, err = wc.Write([]byte(msg)); err != nil {
		s.log.Error("Failed to write email body", sl.Err(err))
		return err
	}
	if err = wc.Close(); err != nil {
		s.log.Error("Failed to close Data writer", sl.Err(err))
		return err
	}
	if err = client.Quit(); err != nil {
		s.log.Error("Failed to quit SMTP client", sl.Err(err))
		return err
	}
	return nil
}
