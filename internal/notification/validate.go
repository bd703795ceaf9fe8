package notification

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNoRecipients   = errors.New("at least one recipient is required")
	ErrEmptyMessage   = errors.New("message is required")
	ErrInvalidPhone   = errors.New("invalid phone number")
	ErrInvalidEmail   = errors.New("invalid email address")
	ErrUnknownChannel = errors.New("unknown notification channel")
)

// brazilianPhone matches digits only: optional country code 55, two-digit
// area code, optional mobile 9, eight digits.
var (
	brazilianPhone = regexp.MustCompile(`^(55)?[1-9]{2}9?\d{8}$`)
	nonDigits      = regexp.MustCompile(`\D`)
)

var validate = validator.New()

// NormalizePhone strips formatting and validates the result.
func NormalizePhone(raw string) (string, error) {
	digits := nonDigits.ReplaceAllString(raw, "")
	if !brazilianPhone.MatchString(digits) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return digits, nil
}

func ValidEmail(addr string) bool {
	return validate.Var(addr, "required,email") == nil
}

func validatePhones(recipients []string) ([]string, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	out := make([]string, len(recipients))
	for i, r := range recipients {
		n, err := NormalizePhone(r)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func validateEmails(recipients []string) ([]string, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	out := make([]string, len(recipients))
	for i, r := range recipients {
		addr := strings.TrimSpace(r)
		if !ValidEmail(addr) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, r)
		}
		out[i] = addr
	}
	return out, nil
}

func validateTargets(recipients []string) ([]string, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r == "" {
			return nil, errors.New("recipient must not be blank")
		}
		out = append(out, r)
	}
	return out, nil
}

// validateMessage checks msg for its channel and normalizes recipients in place.
func validateMessage(msg *Message) error {
	var err error
	switch msg.Channel {
	case ChannelSMS, ChannelWhatsApp:
		if strings.TrimSpace(msg.Message) == "" {
			return ErrEmptyMessage
		}
		msg.Recipients, err = validatePhones(msg.Recipients)
	case ChannelEmail:
		if strings.TrimSpace(msg.Subject) == "" || strings.TrimSpace(msg.Body) == "" {
			return errors.New("subject and body are required")
		}
		msg.Recipients, err = validateEmails(msg.Recipients)
	case ChannelPush:
		if strings.TrimSpace(msg.Title) == "" || strings.TrimSpace(msg.Message) == "" {
			return errors.New("title and message are required")
		}
		msg.Recipients, err = validateTargets(msg.Recipients)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChannel, msg.Channel)
	}
	return err
}
