// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var ErrWebhookEventNotFound = errors.New("webhook event not found")
var ErrUnknownEventType = errors.New("unknown webhook event type")
var ErrInvalidDestination = errors.New("invalid webhook destination")
var ErrInvalidPayload = errors.New("invalid webhook payload")
var ErrWebhookAlreadyDelivered = errors.New("webhook event already delivered")
var ErrEndpointNotFound = errors.New("webhook endpoint not found")
var ErrEventTypeNotAllowed = errors.New("event type not allowed for endpoint")
var ErrRedeliveryInProgress = errors.New("redelivery already in progress")
