package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/obiente/translate/livescribe/internal/metrics"
)

// ErrMQTTDisconnected is returned while the client waits to reconnect.
var ErrMQTTDisconnected = errors.New("mqtt broker disconnected")

type MQTTOptions struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	QoS         byte
	Log         zerolog.Logger
	Metrics     *metrics.Metrics
}

// MQTTSink publishes events to <prefix>/<session>/<kind>.
type MQTTSink struct {
	conn      mqtt.Client
	prefix    string
	qos       byte
	connected atomic.Bool
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

func ConnectMQTT(opts MQTTOptions) (*MQTTSink, error) {
	s := newMQTTSink(nil, opts)

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	s.conn = mqtt.NewClient(clientOpts)
	token := s.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.BrokerURL, err)
	}
	s.connected.Store(s.conn.IsConnected())
	return s, nil
}

func newMQTTSink(conn mqtt.Client, opts MQTTOptions) *MQTTSink {
	prefix := strings.TrimSuffix(opts.TopicPrefix, "/")
	if prefix == "" {
		prefix = "livescribe"
	}
	return &MQTTSink{
		conn:    conn,
		prefix:  prefix,
		qos:     opts.QoS,
		log:     opts.Log.With().Str("component", "mqtt_sink").Logger(),
		metrics: opts.Metrics,
	}
}

func (s *MQTTSink) onConnect(mqtt.Client) {
	s.connected.Store(true)
	s.log.Info().Str("prefix", s.prefix).Msg("mqtt connected")
}

func (s *MQTTSink) onConnectionLost(_ mqtt.Client, err error) {
	s.connected.Store(false)
	s.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

func (s *MQTTSink) IsConnected() bool {
	return s.connected.Load()
}

func (s *MQTTSink) Topic(ev Event) string {
	session := ev.SessionID
	if session == "" {
		session = "none"
	}
	return s.prefix + "/" + session + "/" + ev.Kind()
}

func (s *MQTTSink) Publish(ctx context.Context, ev Event) error {
	start := time.Now()
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	topic := s.Topic(ev)
	if !s.IsConnected() {
		err = fmt.Errorf("mqtt publish %s: %w", topic, ErrMQTTDisconnected)
		s.metrics.RecordSinkPublish("mqtt", err, time.Since(start).Seconds())
		return err
	}

	timeout := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	token := s.conn.Publish(topic, s.qos, false, payload)
	if !token.WaitTimeout(timeout) {
		err = fmt.Errorf("mqtt publish %s: timed out after %v", topic, timeout)
	} else if token.Error() != nil {
		err = fmt.Errorf("mqtt publish %s: %w", topic, token.Error())
	}
	s.metrics.RecordSinkPublish("mqtt", err, time.Since(start).Seconds())
	return err
}

func (s *MQTTSink) Close() error {
	s.log.Info().Msg("disconnecting mqtt client")
	s.conn.Disconnect(1000)
	return nil
}
