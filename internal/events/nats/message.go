package nats

import (
	"github.com/nats-io/nats.go/jetstream"

	"github.com/boxbase/boxbase/internal/events"
)

type message struct {
	msg jetstream.Msg
}

// WrapMessage wraps a jetstream.Msg as an events.Message.
func WrapMessage(msg jetstream.Msg) events.Message {
	return &message{msg: msg}
}

func (m *message) Data() []byte    { return m.msg.Data() }
func (m *message) Subject() string { return m.msg.Subject() }
func (m *message) Ack() error      { return m.msg.Ack() }
func (m *message) Nak() error      { return m.msg.Nak() }
func (m *message) Term() error     { return m.msg.Term() }

func (m *message) Metadata() (events.MessageMetadata, error) {
	md, err := m.msg.Metadata()
	if err != nil {
		return events.MessageMetadata{}, err
	}
	return events.MessageMetadata{
		NumDelivered: md.NumDelivered,
		Timestamp:    md.Timestamp,
		Subject:      m.msg.Subject(),
		Stream:       md.Stream,
		Consumer:     md.Consumer,
	}, nil
}
