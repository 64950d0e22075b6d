package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/notification/domain"
	"github.com/smallbiznis/storefront/internal/usercontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxMessageLength = 2000
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Publisher domain.Publisher `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	publisher domain.Publisher
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("notification.service"),
		genID:     p.GenID,
		clock:     clk,
		repo:      p.Repo,
		publisher: p.Publisher,
	}
}

func (s *Service) List(ctx context.Context, req domain.ListNotificationRequest) ([]domain.View, error) {
	userID, ok := usercontext.UserIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrUnauthorized
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		UserID: userID,
		IsRead: req.IsRead,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}

	views := make([]domain.View, 0, len(items))
	for _, item := range items {
		views = append(views, item.View())
	}
	return views, nil
}

func (s *Service) UnreadCount(ctx context.Context) (int64, error) {
	userID, ok := usercontext.UserIDFromContext(ctx)
	if !ok {
		return 0, domain.ErrUnauthorized
	}
	return s.repo.CountUnread(ctx, s.db, userID)
}

func (s *Service) MarkRead(ctx context.Context, id string) error {
	userID, ok := usercontext.UserIDFromContext(ctx)
	if !ok {
		return domain.ErrUnauthorized
	}
	notificationID, err := parseID(id)
	if err != nil {
		return err
	}

	found, err := s.repo.MarkRead(ctx, s.db, userID, notificationID, s.clock.Now())
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context) (int64, error) {
	userID, ok := usercontext.UserIDFromContext(ctx)
	if !ok {
		return 0, domain.ErrUnauthorized
	}
	return s.repo.MarkAllRead(ctx, s.db, userID, s.clock.Now())
}

func (s *Service) Delete(ctx context.Context, id string) error {
	userID, ok := usercontext.UserIDFromContext(ctx)
	if !ok {
		return domain.ErrUnauthorized
	}
	notificationID, err := parseID(id)
	if err != nil {
		return err
	}

	affected, err := s.repo.Delete(ctx, s.db, userID, notificationID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Send stores an operator message for a user and pushes it live.
func (s *Service) Send(ctx context.Context, req domain.SendRequest) (*domain.View, error) {
	recipient, err := parseID(req.UserID)
	if err != nil {
		return nil, err
	}
	message := strings.TrimSpace(req.Message)
	if message == "" || utf8.RuneCountInString(message) > maxMessageLength {
		return nil, domain.ErrInvalidMessage
	}
	kind := domain.Type(strings.ToLower(strings.TrimSpace(req.Type)))
	if kind == "" {
		kind = domain.TypeSystem
	}
	if !kind.Valid() {
		return nil, domain.ErrInvalidType
	}

	exists, err := s.repo.UserExists(ctx, s.db, recipient)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrRecipientNotFound
	}

	n := domain.Notification{
		ID:        s.genID.Generate(),
		UserID:    recipient,
		Message:   message,
		Type:      kind,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, &n); err != nil {
		s.log.Error("failed to store notification", zap.Error(err), zap.String("user_id", recipient.String()))
		return nil, err
	}
	if s.publisher != nil {
		s.publisher.Publish(n)
	}

	s.log.Info("notification sent",
		zap.String("notification_id", n.ID.String()),
		zap.String("user_id", recipient.String()),
		zap.String("type", string(kind)),
	)
	view := n.View()
	return &view, nil
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
