package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/repository"
)

// NotificationService handles outbound patient notifications and in-app
// clinic notifications. Delivery failures never abort the calling flow;
// callers treat them as best-effort.
type NotificationService interface {
	SendSMS(ctx context.Context, mobile, message string) error
	SendEmail(ctx context.Context, email, subject, message string) error
	Notify(ctx context.Context, notification *models.Notification) error
}

// EmailProvider interface for email sending
type EmailProvider interface {
	SendEmail(ctx context.Context, email, subject, message string) error
}

// NotificationServiceImpl implements NotificationService
type NotificationServiceImpl struct {
	smsService       SMSService
	emailProvider    EmailProvider
	notificationRepo repository.NotificationRepository
}

// NewNotificationService creates a new notification service
func NewNotificationService(smsService SMSService, emailProvider EmailProvider, notificationRepo repository.NotificationRepository) NotificationService {
	return &NotificationServiceImpl{
		smsService:       smsService,
		emailProvider:    emailProvider,
		notificationRepo: notificationRepo,
	}
}

// SendSMS sends an SMS message to the specified mobile number
func (s *NotificationServiceImpl) SendSMS(ctx context.Context, mobile, message string) error {
	if s.smsService == nil {
		return fmt.Errorf("SMS provider not configured")
	}

	if !validMobile(mobile) {
		return fmt.Errorf("invalid mobile number format: %s", mobile)
	}

	return s.smsService.SendSMS(ctx, mobile, message)
}

// SendEmail sends an email to the specified email address
func (s *NotificationServiceImpl) SendEmail(ctx context.Context, email, subject, message string) error {
	if s.emailProvider == nil {
		return fmt.Errorf("email provider not configured")
	}

	if len(email) == 0 || !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %s", email)
	}

	return s.emailProvider.SendEmail(ctx, email, subject, message)
}

// Notify stores an in-app notification for a clinic
func (s *NotificationServiceImpl) Notify(ctx context.Context, notification *models.Notification) error {
	if s.notificationRepo == nil {
		return fmt.Errorf("notification repository not configured")
	}
	return s.notificationRepo.Save(ctx, notification)
}

// validMobile accepts E.164-style numbers: leading plus and 8 to 15 digits.
func validMobile(mobile string) bool {
	if len(mobile) < 9 || len(mobile) > 16 || mobile[0] != '+' {
		return false
	}
	for _, c := range mobile[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

type MockEmailProvider struct {
	SentEmails []MockEmail
}

// MockEmail captures an email sent through the mock provider
type MockEmail struct {
	Email   string
	Subject string
	Message string
}

func NewMockEmailProvider() *MockEmailProvider {
	return &MockEmailProvider{SentEmails: make([]MockEmail, 0)}
}

func (p *MockEmailProvider) SendEmail(ctx context.Context, email, subject, message string) error {
	p.SentEmails = append(p.SentEmails, MockEmail{Email: email, Subject: subject, Message: message})
	return nil
}

type SMTPEmailProvider struct {
	host      string
	port      int
	username  string
	password  string
	fromEmail string
}

func NewSMTPEmailProvider(host string, port int, username, password, fromEmail string) EmailProvider {
	return &SMTPEmailProvider{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromEmail: fromEmail,
	}
}

func (p *SMTPEmailProvider) SendEmail(ctx context.Context, email, subject, message string) error {
	// Implementation would use net/smtp package or a library like gomail

	log.Printf("Sending email via SMTP to %s [%s]: %s", email, subject, message)

	return nil
}
