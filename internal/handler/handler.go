package handler

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/config"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/coordinator"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/repository"
)

type Handler struct {
	validate    *validator.Validate
	config      *config.Config
	repository  *repository.Repository
	coordinator *coordinator.Coordinator
	translator  ut.Translator
	mailChannel *amqp.Channel
	redisClient *redis.Client

	Mux *chi.Mux
}

func NewHandler(cfg *config.Config, repo *repository.Repository, coord *coordinator.Coordinator, mailCh *amqp.Channel, rdb *redis.Client) (*Handler, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	zh := zh.New()
	uni := ut.New(zh, zh)
	trans, _ := uni.GetTranslator("zh")
	if err := zh_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	return &Handler{
		validate:    validate,
		config:      cfg,
		repository:  repo,
		coordinator: coord,
		translator:  trans,
		mailChannel: mailCh,
		redisClient: rdb,

		Mux: chi.NewRouter(),
	}, nil
}

func (h *Handler) RegisterRoutes() {
	h.Mux.Use(h.logger)
	h.Mux.Use(h.recoverer)

	// 认证相关
	h.Mux.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Route("/reset-password", func(r chi.Router) {
			r.Post("/require", h.RequireResetPassword)
			r.Post("/confirm", h.ConfirmResetPassword)
		})
	})

	// 以下 API 必须要在登录后才允许调用
	h.Mux.Group(func(r chi.Router) {
		r.Use(h.auth)
		r.Route("/my-info", func(r chi.Router) {
			r.Use(h.myInfo)
			r.Get("/", h.GetMyInfo)
			r.Patch("/password", h.UpdateMyPassword)
			r.Route("/update-email", func(r chi.Router) {
				r.Post("/require", h.RequireUpdateEmail)
				r.Post("/confirm", h.ConfirmUpdateEmail)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.With(h.RequiredRole([]domain.Role{domain.RoleAdmin})).Post("/", h.CreateUser)
			r.Get("/", h.GetAllUserInfo) // 所有排班员都有权限查看其他人的基本信息
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.userInfo)
				r.Get("/", h.GetUserInfo)
				r.With(h.preventOperateInitialAdmin).With(h.RequiredRole([]domain.Role{domain.RoleAdmin})).Patch("/", h.UpdateUser)
				r.With(h.preventOperateInitialAdmin).With(h.RequiredRole([]domain.Role{domain.RoleAdmin})).Delete("/", h.DeleteUser)
				r.With(h.RequiredRole([]domain.Role{domain.RoleAdmin})).Patch("/password", h.UpdateUserPassword)
			})
		})

		r.Route("/staff", func(r chi.Router) {
			r.Get("/", h.GetActiveStaff)
			r.With(h.RequiredRole([]domain.Role{domain.RoleSupervisor, domain.RoleAdmin})).Post("/", h.CreateStaffMember)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.staffMember)
				r.Get("/availability", h.GetStaffAvailability)
				r.Post("/availability", h.CreateAvailabilityWindow)
			})
		})

		r.Route("/locations", func(r chi.Router) {
			r.Get("/", h.GetAllLocations)
			r.With(h.RequiredRole([]domain.Role{domain.RoleAdmin})).Post("/", h.CreateLocation)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(h.location)
				r.Get("/entries", h.GetLocationEntries)
				r.Get("/coverage", h.GetCoverageRequirements)
				r.With(h.RequiredRole([]domain.Role{domain.RoleSupervisor, domain.RoleAdmin})).Post("/coverage", h.CreateCoverageRequirement)
			})
		})

		// 实时协同编辑
		r.Route("/coordination", func(r chi.Router) {
			r.Route("/sessions", func(r chi.Router) {
				r.Use(h.myInfo)
				r.Post("/", h.OpenSession)
				r.With(h.RequiredRole([]domain.Role{domain.RoleSupervisor, domain.RoleAdmin})).Get("/", h.GetActiveSessions)
				r.Delete("/{sessionID}", h.CloseSession)
				r.Get("/{sessionID}/ws", h.AttachSessionChannel)
			})
			r.Post("/changes", h.SubmitChange)
			r.Post("/changes/{changeID}/rollback", h.RollbackChange)
			r.Get("/conflicts", h.GetActiveConflicts)
			r.Post("/conflicts/{conflictID}/resolve", h.ResolveConflict)
			r.Get("/events", h.GetRecentEvents)
		})
	})
}
