package email

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"

	"github.com/sakashimaa/freshsave/pkg/config"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"github.com/sakashimaa/freshsave/pkg/utils"
	"github.com/sakashimaa/freshsave/services/notification/internal/domain"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Sender interface {
	Send(ctx context.Context, msg domain.Email) error
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type smtpSender struct {
	from     string
	password string
	host     string
	port     string
	send     sendFunc
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewSMTPSender(cfg config.SMTP, logger *zap.Logger) Sender {
	return &smtpSender{
		from:     cfg.User,
		password: cfg.Password,
		host:     cfg.Host,
		port:     cfg.Port,
		send:     smtp.SendMail,
		breaker:  utils.NewBreaker("smtp", utils.DefaultBreakerConfig(), logger),
		logger:   logger,
		tracer:   otel.Tracer("notification/infrastructure/email"),
	}
}

func (s *smtpSender) Send(ctx context.Context, msg domain.Email) error {
	ctx, span := s.tracer.Start(ctx, "smtp.Send")
	defer span.End()

	span.SetAttributes(attribute.String("to.email", msg.To))

	subject := "Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\n"
	mimeHeader := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	raw := []byte(subject + mimeHeader + msg.HTML)

	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	var auth smtp.Auth
	if s.from != "" && s.password != "" {
		auth = smtp.PlainAuth("", s.from, s.password, s.host)
	}

	mylogger.Info(ctx, s.logger, "Sending email", zap.String("to", msg.To))

	err := utils.RunWithBreaker(s.breaker, func() error {
		return s.send(addr, auth, s.from, []string{msg.To}, raw)
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Error sending email",
			zap.String("to", msg.To),
			zap.Error(err),
		)

		return fmt.Errorf("failed to send mail: %w", err)
	}

	mylogger.Info(ctx, s.logger, "Email sent successfully", zap.String("to", msg.To))
	return nil
}
