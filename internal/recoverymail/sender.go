package recoverymail

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/cartpulse-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cartpulse-backend/pkg/errors"
	"github.com/angelmondragon/cartpulse-backend/pkg/logger"
	"github.com/angelmondragon/cartpulse-backend/pkg/sendgrid"
)

const mailCategory = "cart-recovery"

var errNoRecipient = errors.New("cart has no email address")

// Mailer delivers a composed message and returns the provider message id.
type Mailer interface {
	Send(ctx context.Context, msg sendgrid.Message) (string, error)
}

// SenderParams wires the recovery email sender.
type SenderParams struct {
	Mailer        Mailer
	Logger        *logger.Logger
	FromEmail     string
	FromName      string
	PublicBaseURL string
}

// Sender composes and delivers recovery emails.
type Sender struct {
	mailer        Mailer
	logg          *logger.Logger
	from          sendgrid.Address
	publicBaseURL string
}

// NewSender validates dependencies.
func NewSender(params SenderParams) (*Sender, error) {
	if params.Mailer == nil {
		return nil, fmt.Errorf("mailer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(params.FromEmail) == "" {
		return nil, fmt.Errorf("from email required")
	}
	if strings.TrimSpace(params.PublicBaseURL) == "" {
		return nil, fmt.Errorf("public base url required")
	}
	return &Sender{
		mailer:        params.Mailer,
		logg:          params.Logger,
		from:          sendgrid.Address{Email: params.FromEmail, Name: params.FromName},
		publicBaseURL: params.PublicBaseURL,
	}, nil
}

// Send delivers the email for step. It returns nil only once the provider accepted the message.
func (s *Sender) Send(ctx context.Context, record models.CartRecord, step int) error {
	to := record.EmailAddress()
	if to == "" {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, errNoRecipient, "send recovery email")
	}
	composed, err := Compose(s.from.Name, s.publicBaseURL, record, step)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compose recovery email")
	}

	messageID, err := s.mailer.Send(ctx, sendgrid.Message{
		From:       s.from,
		To:         sendgrid.Address{Email: to},
		Subject:    composed.Subject,
		PlainText:  composed.Text,
		HTML:       composed.HTML,
		Categories: []string{mailCategory, "step-" + strconv.Itoa(step)},
		CustomArgs: map[string]string{
			"cart_id": strconv.FormatInt(record.ID, 10),
			"step":    strconv.Itoa(step),
		},
	})
	if err != nil {
		return err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"step": step, "message_id": messageID}), "recovery email accepted")
	return nil
}

// LogMailer records messages in the log instead of sending them. Local development only.
type LogMailer struct {
	Logger *logger.Logger
}

// Send logs msg and reports a synthetic message id.
func (m LogMailer) Send(ctx context.Context, msg sendgrid.Message) (string, error) {
	id := "log-" + uuid.NewString()
	if m.Logger != nil {
		m.Logger.Info(m.Logger.WithFields(ctx, map[string]any{
			"to":         msg.To.Email,
			"subject":    msg.Subject,
			"message_id": id,
		}), "recovery email logged, not sent")
	}
	return id, nil
}
