package services

import (
	"villaops_go_backend/internal/models"

	"gorm.io/gorm"
)

type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

func (s *UserService) CreateOrUpdateUser(auth0ID, email, name, nickname string) (*models.User, error) {
	user := models.User{
		Auth0ID:  auth0ID,
		Email:    email,
		Name:     name,
		Nickname: nickname,
	}
	result := s.db.Where(models.User{Auth0ID: auth0ID}).FirstOrCreate(&user)
	if result.Error != nil {
		return nil, result.Error
	}
	return &user, nil
}

func (s *UserService) GetUserByAuth0ID(auth0ID string) (*models.User, error) {
	var user models.User
	result := s.db.Where("auth0_id = ?", auth0ID).First(&user)
	if result.Error != nil {
		return nil, result.Error
	}
	return &user, nil
}
