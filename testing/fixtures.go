// Package testing provides test utilities and database setup for testing the referral system
package testing

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	mathrand "math/rand"

	"github.com/google/uuid"
	"github.com/refermed/refermed/models"
	"github.com/refermed/refermed/utils"
	"golang.org/x/crypto/bcrypt"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestClinic creates a clinic of the given type
func (tf *TestFixtures) CreateTestClinic(clinicType string) (*models.Clinic, error) {
	clinic := &models.Clinic{
		UUID:       uuid.New(),
		Name:       fmt.Sprintf("Test Clinic %d", mathrand.Intn(100000)),
		ClinicType: clinicType,
		IsActive:   utils.ToPtr(true),
	}
	if clinicType == models.ClinicTypeSpecialist {
		specialist := "Dr. Test Specialist"
		clinic.SpecialistName = &specialist
	}

	if err := tf.DB.DB.Create(clinic).Error; err != nil {
		return nil, fmt.Errorf("failed to create test clinic: %w", err)
	}
	return clinic, nil
}

// CreateTestMember creates a clinic membership for an IdP subject
func (tf *TestFixtures) CreateTestMember(clinicID uint, subject string) (*models.ClinicMember, error) {
	member := &models.ClinicMember{
		ClinicID:    clinicID,
		Subject:     subject,
		DisplayName: "Test Member",
		Role:        "staff",
	}

	if err := tf.DB.DB.Create(member).Error; err != nil {
		return nil, fmt.Errorf("failed to create test clinic member: %w", err)
	}
	return member, nil
}

// CreateTestLink creates an active magic link for a clinic. The returned
// plaintext code verifies against the stored hash.
func (tf *TestFixtures) CreateTestLink(clinicID uint, label string) (*models.ReferralLink, string, error) {
	code := fmt.Sprintf("%06d", mathrand.Intn(1000000))
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash access code: %w", err)
	}

	token, err := GenerateSecureToken(24)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate link token: %w", err)
	}

	link := &models.ReferralLink{
		UUID:           uuid.New(),
		ClinicID:       clinicID,
		CreatedBy:      "idp|test-subject",
		Token:          token,
		AccessCodeHash: string(hash),
		Label:          label,
		IsActive:       utils.ToPtr(true),
	}

	if err := tf.DB.DB.Create(link).Error; err != nil {
		return nil, "", fmt.Errorf("failed to create test referral link: %w", err)
	}
	return link, code, nil
}

// CreateTestReferral creates a submitted incoming referral for a clinic
func (tf *TestFixtures) CreateTestReferral(clinicID uint, linkID *uint) (*models.Referral, error) {
	statusToken, err := GenerateSecureToken(24)
	if err != nil {
		return nil, fmt.Errorf("failed to generate status token: %w", err)
	}

	mobile := fmt.Sprintf("+3161%07d", mathrand.Intn(10000000))
	referral := &models.Referral{
		UUID:           uuid.New(),
		ReferralType:   models.ReferralTypeIncoming,
		Status:         models.ReferralStatusSubmitted,
		FromClinicID:   clinicID,
		ReferralLinkID: linkID,
		PatientName:    "Test Patient",
		PatientMobile:  &mobile,
		Reason:         "Persistent molar pain",
		Symptoms:       []string{"swelling"},
		StatusToken:    statusToken,
	}

	if err := tf.DB.DB.Create(referral).Error; err != nil {
		return nil, fmt.Errorf("failed to create test referral: %w", err)
	}
	return referral, nil
}

// CreateTestNotification creates an unread notification for a clinic
func (tf *TestFixtures) CreateTestNotification(clinicID uint, referralID *uint) (*models.Notification, error) {
	notification := &models.Notification{
		ClinicID:   clinicID,
		ReferralID: referralID,
		Type:       models.NotificationTypeReferralSubmitted,
		Title:      "New referral",
		Message:    "A test referral arrived",
		IsRead:     utils.ToPtr(false),
	}

	if err := tf.DB.DB.Create(notification).Error; err != nil {
		return nil, fmt.Errorf("failed to create test notification: %w", err)
	}
	return notification, nil
}

// CreateTestAuditLog creates a test audit log entry
func (tf *TestFixtures) CreateTestAuditLog(clinicID *uint, action string, success bool) (*models.AuditLog, error) {
	description := fmt.Sprintf("Test %s action", action)
	ipAddress := "127.0.0.1"
	userAgent := "Test User Agent"

	audit := &models.AuditLog{
		ClinicID:    clinicID,
		Action:      action,
		Description: &description,
		Success:     &success,
		IPAddress:   &ipAddress,
		UserAgent:   &userAgent,
	}

	if !success {
		errorMessage := "Test failed action"
		audit.ErrorMessage = &errorMessage
	}

	if err := tf.DB.DB.Create(audit).Error; err != nil {
		return nil, fmt.Errorf("failed to create test audit log: %w", err)
	}
	return audit, nil
}

func GenerateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
