package mqttfeed

import (
	"context"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"breakerd/internal/ingest"
)

// Feed is an optional third ingestion path for controllers that speak
// MQTT instead of the raw socket. One JSON report per message,
// fire-and-forget like the socket feed.
type Feed struct {
	gateway *ingest.Gateway
	client  mqtt.Client
}

func New(gw *ingest.Gateway) *Feed {
	return &Feed{gateway: gw}
}

// Start connects to the broker and subscribes. Returns an error only
// for connect/subscribe failures; per-message errors are logged.
func (f *Feed) Start(ctx context.Context, broker, topic string) error {
	opts := mqtt.NewClientOptions().AddBroker(broker)
	f.client = mqtt.NewClient(opts)
	if token := f.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		report, err := ingest.ParseJSON(msg.Payload())
		if err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("dropped malformed mqtt report")
			return
		}
		if _, err := f.gateway.Apply(ctx, report); err != nil {
			log.Warn().Err(err).Str("uid", report.UID).Str("breaker", report.BreakerID).
				Msg("mqtt report rejected")
		}
	}
	if token := f.client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Info().Str("broker", broker).Str("topic", topic).Msg("mqtt feed subscribed")
	return nil
}

func (f *Feed) Stop() {
	if f.client != nil {
		f.client.Disconnect(250)
	}
}
