package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageTypeHeader is the header SNS uses to announce the envelope type
const MessageTypeHeader = "x-amz-sns-message-type"

// MessageType tags the variant of an SNS envelope
type MessageType string

const (
	MessageTypeNotification             MessageType = "Notification"
	MessageTypeSubscriptionConfirmation MessageType = "SubscriptionConfirmation"
	MessageTypeUnsubscribeConfirmation  MessageType = "UnsubscribeConfirmation"
)

// Known reports whether t is one of the SNS envelope types we understand
func (t MessageType) Known() bool {
	switch t {
	case MessageTypeNotification, MessageTypeSubscriptionConfirmation, MessageTypeUnsubscribeConfirmation:
		return true
	}
	return false
}

// IsHandshake reports whether the envelope is a subscription lifecycle message
// rather than a delivery.
func (t MessageType) IsHandshake() bool {
	return t == MessageTypeSubscriptionConfirmation || t == MessageTypeUnsubscribeConfirmation
}

// Envelope is the outer message SNS posts to an HTTP subscriber
type Envelope struct {
	Type         MessageType `json:"Type"`
	MessageID    string      `json:"MessageId"`
	TopicArn     string      `json:"TopicArn"`
	Message      string      `json:"Message"`
	Timestamp    string      `json:"Timestamp"`
	SubscribeURL string      `json:"SubscribeURL,omitempty"`
	Token        string      `json:"Token,omitempty"`
}

// ParseEnvelope decodes an SNS envelope. headerType, when set, wins over the
// Type field of the body.
func ParseEnvelope(body []byte, headerType string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if headerType != "" {
		env.Type = MessageType(headerType)
	}
	return &env, nil
}

// SESNotification is the JSON payload SES publishes inside Envelope.Message
type SESNotification struct {
	NotificationType string   `json:"notificationType"`
	Mail             *Mail    `json:"mail,omitempty"`
	Receipt          *Receipt `json:"receipt,omitempty"`
	Content          string   `json:"content,omitempty"`
}

// Mail describes the original message as SES saw it
type Mail struct {
	Timestamp   string   `json:"timestamp"`
	MessageID   string   `json:"messageId"`
	Source      string   `json:"source"`
	Destination []string `json:"destination"`
}

// Receipt describes what the receipt rule did with the message
type Receipt struct {
	Action *ReceiptAction `json:"action,omitempty"`
}

// ReceiptAction is the action of the receipt rule that published the notification.
// BucketName and ObjectKey are only set for S3 actions.
type ReceiptAction struct {
	Type       string `json:"type"`
	TopicArn   string `json:"topicArn,omitempty"`
	BucketName string `json:"bucketName,omitempty"`
	ObjectKey  string `json:"objectKey,omitempty"`
}

// EmailReference points at a raw email stored in object storage
type EmailReference struct {
	Bucket string
	Key    string
}

// ParseSESNotification decodes the Message field of an envelope. Valid JSON
// that is not an object (a bare string, say) yields an empty notification;
// only invalid JSON is an error.
func ParseSESNotification(message string) (*SESNotification, error) {
	data := []byte(message)
	if !json.Valid(data) {
		return nil, errors.New("message is not valid JSON")
	}

	var n SESNotification
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return &n, nil
	}
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// StorageReference returns the bucket and key of the stored email. ok is false
// unless both are present.
func (n *SESNotification) StorageReference() (EmailReference, bool) {
	if n.Receipt == nil || n.Receipt.Action == nil {
		return EmailReference{}, false
	}
	a := n.Receipt.Action
	if a.BucketName == "" || a.ObjectKey == "" {
		return EmailReference{}, false
	}
	return EmailReference{Bucket: a.BucketName, Key: a.ObjectKey}, true
}

// SentAt parses mail.timestamp. ok is false when mail or its timestamp is
// missing or not RFC 3339.
func (n *SESNotification) SentAt() (time.Time, bool) {
	if n.Mail == nil || n.Mail.Timestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, n.Mail.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SentAtOrDefault returns the send time, or def when it cannot be determined
func (n *SESNotification) SentAtOrDefault(def time.Time) time.Time {
	if t, ok := n.SentAt(); ok {
		return t
	}
	return def
}

// MessageIDOrDefault returns mail.messageId, or def when it is absent
func (n *SESNotification) MessageIDOrDefault(def string) string {
	if n.Mail == nil || n.Mail.MessageID == "" {
		return def
	}
	return n.Mail.MessageID
}
