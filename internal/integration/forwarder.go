// Package integration forwards normalized events to per-account external
// systems. Accounts may configure an HTTP webhook, an MQTT broker, or
// both; the forwarder subscribes to the normalized-event NATS subjects
// and fans each event out to whatever the owning account enabled.
package integration

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/track-server/track-server-pro/internal/models"
	"github.com/track-server/track-server-pro/internal/storage"
)

// ForwarderService fans normalized events out to account integrations
type ForwarderService struct {
	nc    *nats.Conn
	store storage.Store

	// MQTT client pool, one client per account
	mqttClients map[string]mqtt.Client
	clientsMu   sync.RWMutex

	// account settings cache
	accounts   map[string]*accountEntry
	accountsMu sync.Mutex

	httpClient *http.Client
}

type accountEntry struct {
	account   *models.Account
	fetchedAt time.Time
}

const accountCacheTTL = 30 * time.Second

// NewForwarderService creates a forwarder service
func NewForwarderService(nc *nats.Conn, store storage.Store) *ForwarderService {
	return &ForwarderService{
		nc:          nc,
		store:       store,
		mqttClients: make(map[string]mqtt.Client),
		accounts:    make(map[string]*accountEntry),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Start subscribes to the event subjects and blocks until ctx is done
func (s *ForwarderService) Start(ctx context.Context) error {
	sub, err := s.nc.Subscribe("account.*.device.*.event", s.handleEvent)
	if err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}

	log.Info().Msg("Integration forwarder service started")

	<-ctx.Done()

	sub.Unsubscribe()
	s.closeAllMQTTConnections()

	return nil
}

// handleEvent dispatches one normalized event to the account integrations
func (s *ForwarderService) handleEvent(msg *nats.Msg) {
	// subject: account.<account_id>.device.<device_id>.event
	parts := strings.Split(msg.Subject, ".")
	if len(parts) != 5 {
		return
	}
	accountID := parts[1]

	account, err := s.getAccount(accountID)
	if err != nil {
		log.Error().Err(err).Str("account", accountID).Msg("Failed to get account")
		return
	}
	if !account.IsActive {
		return
	}

	var event models.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("Failed to parse event")
		return
	}

	if account.HTTPWebhookURL != "" {
		go s.forwardToHTTP(account, &event)
	}

	if account.MQTTBrokerURL != "" {
		go s.forwardToMQTT(account, &event)
	}
}

// getAccount returns the account settings, cached briefly so a burst of
// events does not hammer the database
func (s *ForwarderService) getAccount(accountID string) (*models.Account, error) {
	s.accountsMu.Lock()
	entry, ok := s.accounts[accountID]
	s.accountsMu.Unlock()

	if ok && time.Since(entry.fetchedAt) < accountCacheTTL {
		return entry.account, nil
	}

	account, err := s.store.GetAccount(context.Background(), accountID)
	if err != nil {
		return nil, err
	}

	s.accountsMu.Lock()
	s.accounts[accountID] = &accountEntry{account: account, fetchedAt: time.Now()}
	s.accountsMu.Unlock()

	return account, nil
}

// forwardToHTTP posts the event to the account webhook
func (s *ForwarderService) forwardToHTTP(account *models.Account, event *models.Event) {
	payload := map[string]interface{}{
		"accountId": account.AccountID,
		"event":     event,
		"timestamp": time.Now().UTC(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal webhook payload")
		return
	}

	req, err := http.NewRequest("POST", account.HTTPWebhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create webhook request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Error().
			Err(err).
			Str("endpoint", account.HTTPWebhookURL).
			Msg("Failed to forward event to HTTP")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("endpoint", account.HTTPWebhookURL).
			Msg("HTTP forward failed")
	} else {
		log.Debug().
			Str("device", event.DeviceID).
			Str("endpoint", account.HTTPWebhookURL).
			Msg("Event forwarded to HTTP")
	}
}

// forwardToMQTT publishes the event on the account broker
func (s *ForwarderService) forwardToMQTT(account *models.Account, event *models.Event) {
	client := s.getMQTTClient(account.AccountID)
	if client == nil {
		client = s.createMQTTClient(account)
		if client == nil {
			return
		}
	}

	topic := account.MQTTTopic
	if topic == "" {
		topic = "tracking/{account_id}/{device_id}/event"
	}
	topic = strings.ReplaceAll(topic, "{account_id}", account.AccountID)
	topic = strings.ReplaceAll(topic, "{device_id}", event.DeviceID)

	jsonData, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal MQTT payload")
		return
	}

	token := client.Publish(topic, 0, false, jsonData)
	if token.WaitTimeout(5 * time.Second) {
		if err := token.Error(); err != nil {
			log.Error().
				Err(err).
				Str("topic", topic).
				Msg("Failed to publish to MQTT")
		} else {
			log.Debug().
				Str("device", event.DeviceID).
				Str("topic", topic).
				Msg("Event forwarded to MQTT")
		}
	} else {
		log.Error().
			Str("topic", topic).
			Msg("MQTT publish timeout")
	}
}

// getMQTTClient returns a connected pooled client, or nil
func (s *ForwarderService) getMQTTClient(accountID string) mqtt.Client {
	s.clientsMu.RLock()
	client, exists := s.mqttClients[accountID]
	s.clientsMu.RUnlock()

	if exists && client.IsConnected() {
		return client
	}

	return nil
}

// createMQTTClient connects a new client for the account broker
func (s *ForwarderService) createMQTTClient(account *models.Account) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(account.MQTTBrokerURL)
	opts.SetClientID(fmt.Sprintf("track-forwarder-%s", account.AccountID))

	if account.MQTTUsername != "" {
		opts.SetUsername(account.MQTTUsername)
		opts.SetPassword(account.MQTTPassword)
	}

	if strings.HasPrefix(account.MQTTBrokerURL, "ssl://") ||
		strings.HasPrefix(account.MQTTBrokerURL, "tls://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().
			Str("account", account.AccountID).
			Msg("MQTT client connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().
			Err(err).
			Str("account", account.AccountID).
			Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	if token.WaitTimeout(10*time.Second) && token.Error() == nil {
		s.clientsMu.Lock()
		s.mqttClients[account.AccountID] = client
		s.clientsMu.Unlock()
		return client
	}

	log.Error().
		Err(token.Error()).
		Str("account", account.AccountID).
		Msg("Failed to connect MQTT client")

	return nil
}

// closeAllMQTTConnections disconnects every pooled client
func (s *ForwarderService) closeAllMQTTConnections() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	for accountID, client := range s.mqttClients {
		if client.IsConnected() {
			client.Disconnect(250)
		}
		delete(s.mqttClients, accountID)

		log.Info().
			Str("account", accountID).
			Msg("MQTT client disconnected")
	}
}
