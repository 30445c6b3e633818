package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfse-emissor/internal/application/dto"
	"github.com/jhoicas/nfse-emissor/internal/application/usecase"
)

// DocumentHandler maneja las peticiones HTTP de NFS-e (protegido).
type DocumentHandler struct {
	uc     *usecase.DocumentUseCase
	logger zerolog.Logger
}

// NewDocumentHandler construye el handler.
func NewDocumentHandler(uc *usecase.DocumentUseCase, logger zerolog.Logger) *DocumentHandler {
	return &DocumentHandler{uc: uc, logger: logger}
}

// Create registra una NFS-e en DRAFT.
// POST /api/documents
func (h *DocumentHandler) Create(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.CreateDocumentRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	doc, err := h.uc.Create(c.UserContext(), companyID, in)
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	return c.Status(fiber.StatusCreated).JSON(doc)
}

// GetByID devuelve el documento con su estado actual.
// GET /api/documents/:id
func (h *DocumentHandler) GetByID(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	doc, err := h.uc.Get(c.UserContext(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err, nil)
	}
	return c.JSON(doc)
}

// Submit envía el documento a la autoridad del tenant.
// POST /api/documents/:id/submit
//
// 200 con AUTHORIZED (síncrono) o SUBMITTED (pendiente o resultado ambiguo); 422 con el
// documento REJECTED si la autoridad lo rechaza.
func (h *DocumentHandler) Submit(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	doc, err := h.uc.Submit(c.UserContext(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err, doc)
	}
	return c.JSON(doc)
}

// Poll consulta a la autoridad un documento SUBMITTED.
// POST /api/documents/:id/poll
func (h *DocumentHandler) Poll(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	doc, err := h.uc.Poll(c.UserContext(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, err, doc)
	}
	return c.JSON(doc)
}

// Cancel cancela una NFS-e autorizada.
// POST /api/documents/:id/cancel  body: {"reason_code": "1", "reason": "..."}
func (h *DocumentHandler) Cancel(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.CancelDocumentRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	doc, err := h.uc.Cancel(c.UserContext(), companyID, c.Params("id"), in)
	if err != nil {
		return writeError(c, h.logger, err, doc)
	}
	return c.JSON(doc)
}
