package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfse-emissor/internal/application/dto"
	"github.com/jhoicas/nfse-emissor/internal/application/usecase"
)

// PayerHandler maneja las peticiones HTTP de tomadores (protegido).
type PayerHandler struct {
	uc     *usecase.PayerUseCase
	logger zerolog.Logger
}

// NewPayerHandler construye el handler.
func NewPayerHandler(uc *usecase.PayerUseCase, logger zerolog.Logger) *PayerHandler {
	return &PayerHandler{uc: uc, logger: logger}
}

// Create POST /api/payers
func (h *PayerHandler) Create(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.CreatePayerRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	payer, err := h.uc.Create(c.UserContext(), companyID, in)
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	return c.Status(fiber.StatusCreated).JSON(payer)
}

// GetByID GET /api/payers/:id
func (h *PayerHandler) GetByID(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	payer, err := h.uc.Get(c.UserContext(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	return c.JSON(payer)
}

// List GET /api/payers?limit=20&offset=0
func (h *PayerHandler) List(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	page := dto.PageRequest{Limit: c.QueryInt("limit", 20), Offset: c.QueryInt("offset", 0)}
	list, err := h.uc.List(c.UserContext(), companyID, page)
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	return c.JSON(list)
}
