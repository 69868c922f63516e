package report

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrTimeout = errors.New("report: publish timed out")

// Client is the part of mqtt.Client used for publishing.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher sends reports to an MQTT broker.
type Publisher struct {
	c     Client
	topic string
	// QoS of published reports. Reports are delivered at least once by
	// default.
	QoS     byte
	Timeout time.Duration
}

func NewPublisher(c Client, topic string) *Publisher {
	return &Publisher{
		c:       c,
		topic:   topic,
		QoS:     1,
		Timeout: 10 * time.Second,
	}
}

// Publish sends r and waits for the broker to acknowledge it.
func (p *Publisher) Publish(r *Report) error {
	b, err := r.Encode()
	if err != nil {
		return err
	}
	tok := p.c.Publish(p.topic, p.QoS, false, b)
	if !tok.WaitTimeout(p.Timeout) {
		return fmt.Errorf("%w: %s", ErrTimeout, p.topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("report: publish %s: %w", p.topic, err)
	}
	return nil
}

// Dial connects to the broker at addr, such as tcp://10.0.0.2:1883.
func Dial(addr, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(addr).SetClientID(clientID)
	opts.SetKeepAlive(2 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetConnectTimeout(timeout)
	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(timeout) {
		return nil, fmt.Errorf("%w: connect %s", ErrTimeout, addr)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("report: connect %s: %w", addr, err)
	}
	return c, nil
}
