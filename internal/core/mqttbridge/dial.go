package mqttbridge

import (
	"context"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/solatis/matchkeeper/internal/core/config"
)

// retryInterval separates connection attempts in Dial.
const retryInterval = 2 * time.Second

// Dial connects to cfg.Broker, retrying until it succeeds or ctx ends.
func Dial(ctx context.Context, cfg config.MQTTConfig, logger *slog.Logger) (paho.Client, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	// Broker keeps the input subscription across reconnects.
	opts.SetCleanSession(false)
	opts.SetMaxReconnectInterval(time.Minute)
	// Emissions are published from inside the message callback.
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", "broker", cfg.Broker, "error", err)
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker)
	})

	client := paho.NewClient(opts)
	for {
		token := client.Connect()
		if token.Wait() && token.Error() == nil {
			return client, nil
		}
		logger.Warn("mqtt connect failed", "broker", cfg.Broker, "error", token.Error())
		select {
		case <-ctx.Done():
			return nil, token.Error()
		case <-time.After(retryInterval):
		}
	}
}
