package user

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/repository"
	"github.com/careflow/clinical-records/internal/service/authz"
	"github.com/careflow/clinical-records/internal/service/event"
	"github.com/careflow/clinical-records/pkg/apperror"
	"github.com/careflow/clinical-records/pkg/auth"
	"github.com/careflow/clinical-records/pkg/logger"
	"github.com/careflow/clinical-records/pkg/security"
)

type Service interface {
	Signup(ctx context.Context, req *model.SignupRequest) (*model.User, error)
	CreateDoctor(ctx context.Context, req *model.CreateDoctorRequest, actor *model.User) (*model.User, error)
	Login(ctx context.Context, req *model.LoginRequest) (*model.TokenResponse, error)
	Get(ctx context.Context, id uuid.UUID) (*model.User, error)
	ListPending(ctx context.Context, actor *model.User) ([]*model.User, error)
}

type service struct {
	repo   repository.UserRepository
	hasher security.PasswordHasher
	jwt    auth.JWTService
	events *event.Service
	logger *logger.Logger
}

func NewService(repo repository.UserRepository, hasher security.PasswordHasher, jwt auth.JWTService, events *event.Service, log *logger.Logger) Service {
	return &service{
		repo:   repo,
		hasher: hasher,
		jwt:    jwt,
		events: events,
		logger: log.WithComponent("user"),
	}
}

// Signup registers an unapproved student or supervisor. Admin approval
// gates everything past login.
func (s *service) Signup(ctx context.Context, req *model.SignupRequest) (*model.User, error) {
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, apperror.BadRequest("invalid password", err)
	}

	user := &model.User{
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
		Role:         req.Role,
		IsApproved:   false,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.events.PublishChange(ctx, model.ChangeOpInsert, model.TableUsers, user)
	return user, nil
}

// CreateDoctor is the admin-only path; the resulting account is
// pre-approved by its creator.
func (s *service) CreateDoctor(ctx context.Context, req *model.CreateDoctorRequest, actor *model.User) (*model.User, error) {
	if !authz.Allowed(actor.Role, authz.ActionCreateDoctor) {
		return nil, apperror.Unauthorized(actor.Role, string(authz.ActionCreateDoctor))
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, apperror.BadRequest("invalid password", err)
	}

	now := time.Now()
	user := &model.User{
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
		Role:         model.RoleDoctor,
		IsApproved:   true,
		ApprovedBy:   &actor.ID,
		ApprovedAt:   &now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.events.PublishChange(ctx, model.ChangeOpInsert, model.TableUsers, user)
	return user, nil
}

func (s *service) Login(ctx context.Context, req *model.LoginRequest) (*model.TokenResponse, error) {
	user, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, apperror.BadRequest("invalid credentials", nil)
	}
	if err := s.hasher.Compare(user.PasswordHash, req.Password); err != nil {
		return nil, apperror.BadRequest("invalid credentials", nil)
	}

	token, expiresAt, err := s.jwt.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	user.PasswordHash = ""
	return &model.TokenResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		User:        user,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) ListPending(ctx context.Context, actor *model.User) ([]*model.User, error) {
	if !authz.Allowed(actor.Role, authz.ActionApproveUser) {
		return nil, apperror.Unauthorized(actor.Role, "list pending users")
	}
	pending := false
	return s.repo.List(ctx, &model.UserFilter{IsApproved: &pending})
}
