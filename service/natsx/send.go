package natsx

import (
	"context"
	"fmt"

	"PPDirect/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func newMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	return msg
}

func (c *NatsxClient) sendCore(subject string, data []byte, hdr map[string]string) error {
	if err := c.nc.PublishMsg(newMsg(subject, data, hdr)); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

func (c *NatsxClient) sendJS(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	ack, err := c.js.PublishMsg(newMsg(subject, data, hdr), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	logger.Debug("nats js published", zap.String("stream", ack.Stream), zap.Uint64("seq", ack.Sequence))
	return nil
}
