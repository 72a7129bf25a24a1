package api

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/okian/arena/internal/adapters/repository"
	"github.com/okian/arena/internal/domain/lifecycle"
	"github.com/okian/arena/internal/domain/model"
)

const maxListLimit = 100

var (
	errMissingAccepted = errors.New("missing accepted")
	errLimit           = fmt.Errorf("limit must be between 1 and %d", maxListLimit)
)

// GamesHandler handles game lifecycle requests.
type GamesHandler struct {
	deps Games
}

// NewGamesHandler creates a new games handler.
func NewGamesHandler(deps Games) *GamesHandler {
	return &GamesHandler{deps: deps}
}

// HandleCreate handles POST /games.
func (h *GamesHandler) HandleCreate(c *fiber.Ctx) error {
	const op = "api.create_game"
	var req lifecycle.CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(op, err)
	}
	g, err := h.deps.Create(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(g)
}

// HandleGet handles GET /games/:id.
func (h *GamesHandler) HandleGet(c *fiber.Ctx) error {
	g, err := h.deps.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(g)
}

// HandleUpdate handles PUT /games/:id. The stored record is replaced by a
// new game carrying the body's fields.
func (h *GamesHandler) HandleUpdate(c *fiber.Ctx) error {
	const op = "api.update_game"
	var g model.Game
	if err := c.BodyParser(&g); err != nil {
		return badRequest(op, err)
	}
	g.GameID = c.Params("id")
	out, err := h.deps.Update(c.UserContext(), g)
	if err != nil {
		return err
	}
	return c.JSON(out)
}

// HandleDelete handles DELETE /games/:id.
func (h *GamesHandler) HandleDelete(c *fiber.Ctx) error {
	if err := h.deps.DeleteGame(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type acceptRequest struct {
	Accepted *bool `json:"accepted"`
}

// HandleAccept handles POST /games/:id/accept with {"accepted": bool}.
// An unknown duel answers {"accepted": false}.
func (h *GamesHandler) HandleAccept(c *fiber.Ctx) error {
	const op = "api.accept_duel"
	var req acceptRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(op, err)
	}
	if req.Accepted == nil {
		return badRequest(op, errMissingAccepted)
	}
	if !*req.Accepted {
		return h.HandleDecline(c)
	}
	ok, err := h.deps.AcceptDuel(c.UserContext(), c.Params("id"))
	if errors.Is(err, lifecycle.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"accepted": false})
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"accepted": ok})
}

// HandleDecline handles POST /games/:id/decline.
func (h *GamesHandler) HandleDecline(c *fiber.Ctx) error {
	g, err := h.deps.DeclineDuel(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(g)
}

// HandleComplete handles POST /games/:id/complete.
func (h *GamesHandler) HandleComplete(c *fiber.Ctx) error {
	out, err := h.deps.CompleteAndResolve(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(out)
}

// HandleList handles GET /clients/:clientId/games?duel=&status=&page=&limit=.
func (h *GamesHandler) HandleList(c *fiber.Ctx) error {
	const op = "api.list_games"
	status, err := repository.ParseStatus(c.Query("status"))
	if err != nil {
		return badRequest(op, err)
	}
	q := repository.Query{
		ClientID:  c.Params("clientId"),
		Status:    status,
		PageToken: c.Query("page"),
	}
	if raw := c.Query("duel"); raw != "" {
		duel, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(op, err)
		}
		q.Duel = &duel
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			return badRequest(op, errLimit)
		}
		q.Limit = n
	}
	page, err := h.deps.List(c.UserContext(), q)
	if err != nil {
		return err
	}
	return c.JSON(page)
}
