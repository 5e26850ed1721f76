package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/vortexdb/vortex-gateway/auth"
	"github.com/vortexdb/vortex-gateway/logging"
	"github.com/vortexdb/vortex-gateway/models"
	"github.com/vortexdb/vortex-gateway/services"
)

// userServiceImpl implements UserService on the security database.
type userServiceImpl struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewUserService(db *gorm.DB) services.UserService {
	return &userServiceImpl{
		db:  db,
		log: logging.WithComponent("users"),
	}
}

func (s *userServiceImpl) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Indistinguishable from a bad password on purpose.
			return nil, models.ErrUnauthorized("invalid credentials")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		return nil, models.ErrUnauthorized("invalid credentials")
	}
	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.log.Error().Err(err).Str("username", username).Msg("stored password hash is malformed")
		return nil, models.ErrUnauthorized("invalid credentials")
	}
	if !ok {
		return nil, models.ErrUnauthorized("invalid credentials")
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login", now).Error; err != nil {
		s.log.Warn().Err(err).Str("username", username).Msg("failed to record last login")
	}
	user.LastLogin = &now
	return &user, nil
}

func (s *userServiceImpl) CreateUser(ctx context.Context, req models.CreateUserRequest) (*models.User, error) {
	role := req.Role
	if role == "" {
		role = models.RoleViewer
	}
	tier := req.Tier
	if tier == "" {
		tier = models.TierFree
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &models.User{
		Username:     req.Username,
		PasswordHash: hash,
		Role:         role,
		Team:         req.Team,
		Tier:         tier,
		IsActive:     true,
		IsContractor: req.IsContractor,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, models.ErrInvalidRequest("username already exists")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	s.log.Info().Str("username", user.Username).Str("role", string(user.Role)).Msg("user created")
	return user, nil
}

func (s *userServiceImpl) GetUser(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrInvalidRequest("unknown user: " + username)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

func (s *userServiceImpl) SetRole(ctx context.Context, username string, role models.Role) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("username = ?", username).
		Updates(map[string]any{"role": role, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update role: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrInvalidRequest("unknown user: " + username)
	}
	return nil
}

func (s *userServiceImpl) Deactivate(ctx context.Context, username string) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("username = ?", username).
		Updates(map[string]any{"is_active": false, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrInvalidRequest("unknown user: " + username)
	}
	return nil
}

// EnsureAdmin bootstraps the first admin account when the user table is
// empty and an admin secret is configured. Existing installs are never
// touched.
func (s *userServiceImpl) EnsureAdmin(ctx context.Context, adminSecret string) error {
	if adminSecret == "" {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	_, err := s.CreateUser(ctx, models.CreateUserRequest{
		Username: "admin",
		Password: adminSecret,
		Role:     models.RoleAdmin,
		Tier:     models.TierAdmin,
	})
	if err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}
	s.log.Info().Msg("seeded initial admin account")
	return nil
}
