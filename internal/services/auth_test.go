package services

import (
	"errors"
	"testing"

	"github.com/huangang/trackmirror/internal/config"
	"github.com/huangang/trackmirror/internal/models"
	"github.com/huangang/trackmirror/internal/utils"
)

func newAuthService(t *testing.T) (*AuthService, *models.User) {
	t.Helper()
	utils.SetJWTSecret("test-secret")
	db := newTestDB(t)
	svc := NewAuthService(db, &config.JWTConfig{Secret: "test-secret", ExpireHour: 24})
	if err := svc.CreateAdminIfNotExists(); err != nil {
		t.Fatalf("CreateAdminIfNotExists() error = %v", err)
	}
	var admin models.User
	if err := db.Where("username = ?", "admin").First(&admin).Error; err != nil {
		t.Fatalf("load admin: %v", err)
	}
	return svc, &admin
}

func TestAuthService_Login(t *testing.T) {
	svc, admin := newAuthService(t)

	resp, err := svc.Login(&LoginRequest{Username: "admin", Password: "admin"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if resp.Token == "" {
		t.Error("Login() should return a token")
	}

	claims, err := utils.ParseToken(resp.Token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.UserID != admin.ID {
		t.Errorf("claims.UserID = %d, expected %d", claims.UserID, admin.ID)
	}
	if resp.User.LastLogin == nil {
		t.Error("LastLogin should be set")
	}
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	svc, _ := newAuthService(t)

	_, err := svc.Login(&LoginRequest{Username: "admin", Password: "nope"})
	if !errors.Is(err, ErrInvalidLogin) {
		t.Errorf("Login() error = %v, expected %v", err, ErrInvalidLogin)
	}
}

func TestAuthService_Login_RemoteUserRejected(t *testing.T) {
	svc, _ := newAuthService(t)
	remote := models.User{Username: "ann", Password: utils.UnusablePassword(), AuthType: "remote", IsActive: true}
	if err := svc.db.Create(&remote).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	if _, err := svc.Login(&LoginRequest{Username: "ann", Password: ""}); !errors.Is(err, ErrInvalidLogin) {
		t.Errorf("Login() error = %v, expected %v", err, ErrInvalidLogin)
	}
}

func TestAuthService_CreateAdminIfNotExists_Once(t *testing.T) {
	svc, _ := newAuthService(t)
	if err := svc.CreateAdminIfNotExists(); err != nil {
		t.Fatalf("CreateAdminIfNotExists() error = %v", err)
	}

	var count int64
	svc.db.Model(&models.User{}).Where("role = ?", "admin").Count(&count)
	if count != 1 {
		t.Errorf("admin count = %d, expected 1", count)
	}
}

func TestAuthService_ChangePassword(t *testing.T) {
	svc, admin := newAuthService(t)

	if err := svc.ChangePassword(admin.ID, &ChangePasswordRequest{OldPassword: "wrong", NewPassword: "secret1"}); err == nil {
		t.Error("ChangePassword() should reject a wrong old password")
	}
	if err := svc.ChangePassword(admin.ID, &ChangePasswordRequest{OldPassword: "admin", NewPassword: "secret1"}); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if _, err := svc.Login(&LoginRequest{Username: "admin", Password: "secret1"}); err != nil {
		t.Errorf("Login() with new password error = %v", err)
	}
}
