package fanout

import (
	"github.com/nats-io/nats.go"
)

// NATSTransport maps groups straight onto NATS subjects. Core NATS gives
// exactly the contract the engine wants: at-most-once, no replay, FIFO
// per subject for a single publisher.
type NATSTransport struct {
	nc *nats.Conn
}

func NewNATSTransport(nc *nats.Conn) *NATSTransport {
	return &NATSTransport{nc: nc}
}

func (t *NATSTransport) Publish(group string, payload []byte) error {
	return t.nc.Publish(group, payload)
}

func (t *NATSTransport) Subscribe(group string) (<-chan []byte, func(), error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := t.nc.ChanSubscribe(group, msgs)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan []byte, 64)
	done := make(chan struct{})
	go bridge(msgs, out, done)

	cancel := func() {
		_ = sub.Unsubscribe()
		close(done)
	}
	return out, cancel, nil
}

// bridge pumps subscription messages into the subscriber channel until
// done closes or the source drains. The forward is non-blocking: a full
// out channel drops the event, so the goroutine always keeps an exit
// path even when the subscriber stopped reading.
func bridge(msgs <-chan *nats.Msg, out chan<- []byte, done <-chan struct{}) {
	defer close(out)
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case out <- m.Data:
			default:
				// Slow subscriber: drop, never block.
			}
		case <-done:
			return
		}
	}
}
