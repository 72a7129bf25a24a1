package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/okian/arena/internal/domain/model"
)

// UserGamesProvider lists the games a user competes in.
type UserGamesProvider interface {
	UserGames(ctx context.Context, userID string) ([]model.Game, error)
}

// UsersHandler handles user-scoped reads.
type UsersHandler struct {
	deps UserGamesProvider
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(deps UserGamesProvider) *UsersHandler {
	return &UsersHandler{deps: deps}
}

// HandleGames handles GET /users/:id/games.
func (h *UsersHandler) HandleGames(c *fiber.Ctx) error {
	games, err := h.deps.UserGames(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(games)
}
