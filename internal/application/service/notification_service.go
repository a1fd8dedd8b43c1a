package service

import (
	"context"
	"fmt"

	"github.com/garyjia/xpensure/internal/application/dispatcher"
	"github.com/garyjia/xpensure/internal/application/port"
	"github.com/garyjia/xpensure/internal/domain/event"
)

// Notification is a message addressed to one employee
type Notification struct {
	RecipientID    string
	RecipientEmail string
	Subject        string
	Body           string
}

// NotificationSender delivers notifications
type NotificationSender interface {
	Send(ctx context.Context, n Notification) error
}

// NotificationService turns request events into notifications for the people
// who must act on them or who are waiting on them.
type NotificationService interface {
	Register(d dispatcher.Dispatcher)
	HandleEvent(ctx context.Context, evt *event.Event) error
}

type notificationServiceImpl struct {
	employeeRepo port.EmployeeRepository
	sender       NotificationSender
	logger       Logger
}

// NewNotificationService creates a new NotificationService. A nil sender logs
// notifications instead of delivering them.
func NewNotificationService(employeeRepo port.EmployeeRepository, sender NotificationSender, logger Logger) NotificationService {
	s := &notificationServiceImpl{
		employeeRepo: employeeRepo,
		sender:       sender,
		logger:       logger,
	}
	if s.sender == nil {
		s.sender = &logSender{logger: logger}
	}
	return s
}

// Register subscribes the service to every request event
func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	for _, typ := range []event.Type{
		event.TypeRequestSubmitted,
		event.TypeRequestForwarded,
		event.TypeRequestAdvanced,
		event.TypeRequestApproved,
		event.TypeRequestRejected,
		event.TypeRequestPaid,
	} {
		d.Subscribe(typ, "notification", s.HandleEvent)
	}
}

// HandleEvent notifies the next approver of requests waiting on them and the
// submitter of final outcomes.
func (s *notificationServiceImpl) HandleEvent(ctx context.Context, evt *event.Event) error {
	label := fmt.Sprintf("%s #%d", evt.RequestKind, evt.RequestID)
	amount := evt.GetPayloadString(event.KeyAmount)

	var recipientID, subject, body string
	switch evt.Type {
	case event.TypeRequestSubmitted, event.TypeRequestForwarded, event.TypeRequestAdvanced:
		recipientID = evt.GetPayloadString(event.KeyNextApproverID)
		subject = fmt.Sprintf("Approval needed: %s", label)
		body = fmt.Sprintf("%s for %s from %s is waiting for your approval.",
			label, amount, evt.GetPayloadString(event.KeyEmployeeID))
	case event.TypeRequestApproved:
		recipientID = evt.GetPayloadString(event.KeyEmployeeID)
		subject = fmt.Sprintf("Approved: %s", label)
		body = fmt.Sprintf("Your %s for %s has been approved.", label, amount)
	case event.TypeRequestRejected:
		recipientID = evt.GetPayloadString(event.KeyEmployeeID)
		subject = fmt.Sprintf("Rejected: %s", label)
		body = fmt.Sprintf("Your %s was rejected by %s: %s",
			label, evt.ActorID, evt.GetPayloadString(event.KeyRejectionReason))
	case event.TypeRequestPaid:
		recipientID = evt.GetPayloadString(event.KeyEmployeeID)
		subject = fmt.Sprintf("Paid: %s", label)
		body = fmt.Sprintf("Your %s for %s has been paid.", label, amount)
	default:
		return nil
	}
	if recipientID == "" {
		return nil
	}

	recipient, err := s.employeeRepo.GetByEmployeeID(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("get recipient %s: %w", recipientID, err)
	}
	n := Notification{RecipientID: recipientID, Subject: subject, Body: body}
	if recipient != nil {
		n.RecipientEmail = recipient.Email
	}

	if err := s.sender.Send(ctx, n); err != nil {
		s.logger.Error("Failed to send notification", "error", err, "event_type", evt.Type, "recipient_id", recipientID)
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

type logSender struct {
	logger Logger
}

func (l *logSender) Send(_ context.Context, n Notification) error {
	l.logger.Info("Notification",
		"recipient_id", n.RecipientID,
		"recipient_email", n.RecipientEmail,
		"subject", n.Subject,
		"body", n.Body)
	return nil
}
