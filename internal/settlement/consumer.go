package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/chama-pay/chama_ledger/internal/ledger"
)

const messageTimeout = 10 * time.Second

// MessageHandler decodes settlement messages from the queue. Malformed or
// invalid messages are dropped with a log line; anything else is returned so
// the queue redelivers it.
func (s *Service) MessageHandler() func(body []byte) error {
	return func(body []byte) error {
		var in Settlement
		if err := json.Unmarshal(body, &in); err != nil {
			s.logger.Error("dropping malformed settlement message", "error", err)
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
		defer cancel()

		_, err := s.OnPaymentSettled(ctx, in)
		var verr *ledger.ValidationError
		if errors.As(err, &verr) {
			s.logger.Error("dropping invalid settlement message", "external_reference", in.ExternalReference, "error", err)
			return nil
		}
		return err
	}
}
