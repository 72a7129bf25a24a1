// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/okian/arena/internal/adapters/repository"
	"github.com/okian/arena/internal/domain/lifecycle"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/pkg/logger"
)

// Games is the game lifecycle as seen by the handlers.
type Games interface {
	Get(ctx context.Context, id string) (model.Game, error)
	List(ctx context.Context, q repository.Query) (repository.Page, error)
	Create(ctx context.Context, req lifecycle.CreateRequest) (model.Game, error)
	Update(ctx context.Context, g model.Game) (model.Game, error)
	AcceptDuel(ctx context.Context, id string) (bool, error)
	DeclineDuel(ctx context.Context, id string) (model.Game, error)
	CompleteAndResolve(ctx context.Context, id string) (lifecycle.Completion, error)
	DeleteGame(ctx context.Context, id string) error
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Games
	// UserGames returns the games a user competes in.
	UserGames(ctx context.Context, userID string) ([]model.Game, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	gamesHandler  *GamesHandler
	usersHandler  *UsersHandler
	logger        logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler: NewHealthHandler(statsProvider),
		statsHandler:  NewStatsHandler(statsProvider),
		gamesHandler:  NewGamesHandler(deps),
		usersHandler:  NewUsersHandler(deps),
		logger:        logger.Named("http"),
	}
}

// NewApp returns a fiber app with the shared error handler.
func (s *Server) NewApp() *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               "arena",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
}

// Register attaches all HTTP routes to app.
func (s *Server) Register(app *fiber.App) {
	app.Use(MetricsMiddleware())

	app.Get("/healthz", s.healthHandler.HandleHealth)
	app.Get("/metrics", s.healthHandler.HandleMetrics())
	app.Get("/stats", s.statsHandler.HandleStats)

	games := app.Group("/games")
	games.Post("/", s.gamesHandler.HandleCreate)
	games.Get("/:id", s.gamesHandler.HandleGet)
	games.Put("/:id", s.gamesHandler.HandleUpdate)
	games.Delete("/:id", s.gamesHandler.HandleDelete)
	games.Post("/:id/accept", s.gamesHandler.HandleAccept)
	games.Post("/:id/decline", s.gamesHandler.HandleDecline)
	games.Post("/:id/complete", s.gamesHandler.HandleComplete)

	app.Get("/clients/:clientId/games", s.gamesHandler.HandleList)
	app.Get("/users/:id/games", s.usersHandler.HandleGames)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *fiber.Ctx, status int, code string, err error) error {
	msg := utils.StatusMessage(status)
	if err != nil {
		msg = err.Error()
	}
	return c.Status(status).JSON(errorResponse{Code: code, Message: msg})
}

// badRequest wraps err so the error handler answers 400.
func badRequest(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err)
}

// handleError maps domain errors onto status codes.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "not_found", err)
	case errors.Is(err, lifecycle.ErrArchived), errors.Is(err, lifecycle.ErrNotDuel):
		return writeError(c, fiber.StatusConflict, "conflict", err)
	case errors.Is(err, ErrBadRequest), errors.Is(err, model.ErrInvalidGame),
		errors.Is(err, repository.ErrInvalidQuery), errors.Is(err, repository.ErrNoClient):
		return writeError(c, fiber.StatusBadRequest, "bad_request", err)
	case errors.As(err, &fe):
		return writeError(c, fe.Code, "http_error", err)
	}
	s.logger.Error(c.UserContext(), "request failed",
		logger.String("method", c.Method()),
		logger.String("path", c.Path()),
		logger.Error(err),
	)
	return writeError(c, fiber.StatusInternalServerError, "internal_error", err)
}
