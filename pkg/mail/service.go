package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/Geniuskaa/team_registration/internal/config"
	"github.com/Geniuskaa/team_registration/pkg/wizard"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

const (
	COUNT_OF_ATTEMPTS = 3
	RETRY_INTERVAL    = time.Second * 5
	IMAP_TIMEOUT      = time.Second * 30
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type archiveFunc func(ctx context.Context, msg []byte) error

// Service mails the confirmation letter to the mentor and the captain and
// keeps a copy in the organizers' IMAP mailbox.
type Service struct {
	conf          config.Mail
	logger        *zap.Logger
	send          sendFunc
	archive       archiveFunc
	retryInterval time.Duration
	now           func() time.Time
}

func NewService(conf config.Mail, logger *zap.Logger) *Service {
	s := &Service{
		conf:          conf,
		logger:        logger,
		send:          smtp.SendMail,
		retryInterval: RETRY_INTERVAL,
		now:           time.Now,
	}
	if conf.ImapHost != "" {
		s.archive = s.appendToMailbox
	}
	return s
}

func (s *Service) auth() smtp.Auth {
	if s.conf.Username == "" {
		return nil
	}
	return smtp.PlainAuth("", s.conf.Username, s.conf.Password, s.conf.SmtpHost)
}

// Notify implements wizard.Notifier.
func (s *Service) Notify(ctx context.Context, summary wizard.Summary) error {
	to := recipients(summary)
	if len(to) == 0 {
		s.logger.Warn("no recipients for confirmation letter", zap.String("registration", summary.Registration.ID.String()))
		return nil
	}

	msg, err := compose(s.conf.From, to, summary, s.now())
	if err != nil {
		return fmt.Errorf("Notify failed: %w", err)
	}

	addresses := make([]string, len(to))
	for i, a := range to {
		addresses[i] = a.Address
	}

	addr := net.JoinHostPort(s.conf.SmtpHost, strconv.Itoa(s.conf.SmtpPort))
	if err := s.deliver(ctx, addr, addresses, msg); err != nil {
		return fmt.Errorf("Notify failed: %w", err)
	}
	s.logger.Info("confirmation letter sent", zap.String("registration", summary.Registration.ID.String()),
		zap.Strings("to", addresses))

	if s.archive != nil {
		if err := s.archive(ctx, msg); err != nil {
			s.logger.Warn("confirmation letter was not archived", zap.Error(err))
		}
	}
	return nil
}

// deliver tries to send the letter a few times before giving up.
func (s *Service) deliver(ctx context.Context, addr string, to []string, msg []byte) error {
	var err error
	for i := 0; i < COUNT_OF_ATTEMPTS; i++ {
		err = s.send(addr, s.auth(), s.conf.From, to, msg)
		if err == nil {
			return nil
		}
		s.logger.Warn("sending letter failed", zap.Int("attempt", i+1), zap.Error(err))
		if i == COUNT_OF_ATTEMPTS-1 {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(s.retryInterval):
		}
	}
	return fmt.Errorf("deliver failed after %d attempts: %w", COUNT_OF_ATTEMPTS, err)
}

func (s *Service) appendToMailbox(_ context.Context, msg []byte) error {
	c, err := client.DialTLS(net.JoinHostPort(s.conf.ImapHost, strconv.Itoa(s.conf.ImapPort)), nil)
	if err != nil {
		return fmt.Errorf("client.DialTLS failed: %w", err)
	}
	c.Timeout = IMAP_TIMEOUT
	defer c.Logout()

	if err := c.Login(s.conf.Username, s.conf.Password); err != nil {
		return fmt.Errorf("c.Login failed: %w", err)
	}

	if err := c.Append(s.conf.ArchiveMailbox, []string{imap.SeenFlag}, s.now(), bytes.NewBuffer(msg)); err != nil {
		return fmt.Errorf("c.Append failed: %w", err)
	}
	return nil
}
