package database

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

func NewNATSConn(natsURL string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL, nats.Name("presenced"))
	if err != nil {
		return nil, fmt.Errorf("error connecting to nats: %w", err)
	}
	return nc, nil
}
