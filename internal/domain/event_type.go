// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"fmt"
	"strings"
)

type EventType string

const (
	EventOrderCreated EventType = "order.created"
)

// EventTypes lists every tag a webhook event may carry. New application
// events must be added here before they can be published.
var EventTypes = []EventType{
	EventOrderCreated,
}

func ParseEventType(raw string) (EventType, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty type", ErrUnknownEventType)
	}
	for _, known := range EventTypes {
		if string(known) == raw {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, raw)
}
