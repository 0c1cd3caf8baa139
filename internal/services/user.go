package services

import (
	"context"
	"errors"

	"parking-reservations/internal/database"
	"parking-reservations/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type UserService struct{}

func NewUserService() *UserService {
	return &UserService{}
}

func (s *UserService) GetByID(ctx context.Context, userID uint) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "user.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.Int64("user.id", int64(userID)))

	var user models.User
	if err := database.DB.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return &user, nil
}

// ListRegistered returns all non-admin accounts, for the admin user view.
func (s *UserService) ListRegistered(ctx context.Context) ([]models.UserResponse, error) {
	ctx, span := tracer.Start(ctx, "user.list_registered")
	defer span.End()

	var users []models.User
	if err := database.DB.WithContext(ctx).
		Where("is_admin = ?", false).
		Order("created_at ASC").
		Find(&users).Error; err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("result.count", len(users)))

	responses := make([]models.UserResponse, len(users))
	for i, u := range users {
		responses[i] = u.ToResponse()
	}
	return responses, nil
}
