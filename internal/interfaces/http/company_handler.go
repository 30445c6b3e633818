package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfse-emissor/internal/application/dto"
	"github.com/jhoicas/nfse-emissor/internal/application/usecase"
)

// CompanyHandler perfil de la empresa del token y su configuración de emisión.
type CompanyHandler struct {
	uc     *usecase.CompanyUseCase
	logger zerolog.Logger
}

// NewCompanyHandler construye el handler inyectando el caso de uso.
func NewCompanyHandler(uc *usecase.CompanyUseCase, logger zerolog.Logger) *CompanyHandler {
	return &CompanyHandler{uc: uc, logger: logger}
}

// Get godoc
// @Summary      Empresa emisora del token
// @Tags         company
// @Produce      json
// @Success      200  {object}  dto.CompanyResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/company [get]
func (h *CompanyHandler) Get(c *fiber.Ctx) error {
	out, err := h.uc.Get(c.UserContext(), GetCompanyID(c))
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	return c.JSON(out)
}

// GetNFSeConfig godoc
// @Summary      Configuración de emisión activa
// @Tags         company
// @Produce      json
// @Success      200  {object}  dto.NFSeConfigResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/company/nfse-config [get]
func (h *CompanyHandler) GetNFSeConfig(c *fiber.Ctx) error {
	out, err := h.uc.GetNFSeConfig(c.UserContext(), GetCompanyID(c))
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	return c.JSON(out)
}

// SetNFSeConfig godoc
// @Summary      Crear o reemplazar la configuración de emisión
// @Tags         company
// @Accept       json
// @Produce      json
// @Param        body  body  dto.NFSeConfigRequest  true  "Autoridad, ambiente y referencias a secretos"
// @Success      200   {object}  dto.NFSeConfigResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Router       /api/company/nfse-config [put]
func (h *CompanyHandler) SetNFSeConfig(c *fiber.Ctx) error {
	var in dto.NFSeConfigRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	out, err := h.uc.SetNFSeConfig(c.UserContext(), GetCompanyID(c), in)
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	return c.JSON(out)
}
