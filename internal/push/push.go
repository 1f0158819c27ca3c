// Package push delivers Web Push notifications. Delivery is always best
// effort: failures are logged and never propagated, and subscriptions the
// push service reports as gone are deleted so they are not retried forever.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"

	"studiobook/internal/db"
)

const sendTimeout = 10 * time.Second

// Message is the JSON payload shown by the service worker.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// Sender delivers one payload to one subscription and reports the push
// service's HTTP status. Implemented by the VAPID client below and by test
// fakes.
type Sender interface {
	Send(ctx context.Context, sub db.PushSubscription, payload []byte) (int, error)
}

// VAPIDSender sends through a push service using VAPID keys.
type VAPIDSender struct {
	subscriber string
	publicKey  string
	privateKey string
}

func NewVAPIDSender(subscriber, publicKey, privateKey string) *VAPIDSender {
	return &VAPIDSender{subscriber: subscriber, publicKey: publicKey, privateKey: privateKey}
}

func (s *VAPIDSender) Send(ctx context.Context, sub db.PushSubscription, payload []byte) (int, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             3600,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Service fans a message out to all of a user's subscriptions.
type Service struct {
	database *db.DB
	sender   Sender
}

func NewService(database *db.DB, sender Sender) *Service {
	return &Service{database: database, sender: sender}
}

// NotifyUser sends msg to every subscription of the user. Returns true if
// at least one delivery succeeded. Stale subscriptions (404/410 from the
// push service) are deleted; when the last one goes, the user's push flag
// is cleared so reminder dispatch stops early next time.
func (s *Service) NotifyUser(ctx context.Context, orgID, userID int64, msg Message) bool {
	if s == nil || s.sender == nil {
		return false
	}
	logger := log.Ctx(ctx)

	subs, err := s.database.Queries.ListPushSubscriptions(ctx, orgID, userID)
	if err != nil {
		logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to load push subscriptions")
		return false
	}
	if len(subs) == 0 {
		return false
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to marshal push payload")
		return false
	}

	delivered := false
	remaining := len(subs)
	for _, sub := range subs {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		status, err := s.sender.Send(sendCtx, sub, payload)
		cancel()
		if err != nil {
			logger.Error().Err(err).Int64("user_id", userID).Msg("Push delivery failed")
			continue
		}
		switch {
		case status == http.StatusNotFound || status == http.StatusGone:
			// Subscription expired on the push service side; self-heal.
			if err := s.database.Queries.DeletePushSubscription(ctx, sub.ID); err != nil {
				logger.Error().Err(err).Int64("subscription_id", sub.ID).Msg("Failed to delete stale push subscription")
				continue
			}
			remaining--
			logger.Info().Int64("user_id", userID).Int64("subscription_id", sub.ID).Msg("Deleted stale push subscription")
		case status >= 200 && status < 300:
			delivered = true
		default:
			logger.Warn().Int("status", status).Int64("user_id", userID).Msg("Push service rejected notification")
		}
	}

	if remaining == 0 {
		if err := s.database.Queries.DisableParticipantPush(ctx, userID); err != nil {
			logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to disable push flag")
		}
	}
	return delivered
}
