package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfse-emissor/internal/application/dto"
	"github.com/jhoicas/nfse-emissor/internal/domain"
)

// writeError traduce la taxonomía de errores a la respuesta HTTP.
// doc acompaña al rechazo de la autoridad para que el cliente vea el estado REJECTED.
func writeError(c *fiber.Ctx, log zerolog.Logger, err error, doc *dto.DocumentResponse) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "recurso no encontrado"})
	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "acceso denegado"})
	case errors.Is(err, domain.ErrDuplicate):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "DUPLICATE", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}

	status, code := fiber.StatusInternalServerError, "INTERNAL"
	switch domain.KindOf(err) {
	case domain.KindValidation:
		status, code = fiber.StatusBadRequest, "VALIDATION"
	case domain.KindStaleState:
		status, code = fiber.StatusConflict, "STALE_STATE"
	case domain.KindConfiguration:
		status, code = fiber.StatusUnprocessableEntity, "TENANT_CONFIGURATION"
	case domain.KindAuthorityRejected:
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.DocumentErrorResponse{
			Code: "AUTHORITY_REJECTED", Message: err.Error(), Document: doc,
		})
	case domain.KindAuthentication:
		status, code = fiber.StatusBadGateway, "AUTHORITY_AUTHENTICATION"
	case domain.KindTransientNetwork:
		status, code = fiber.StatusServiceUnavailable, "AUTHORITY_UNAVAILABLE"
		c.Set(fiber.HeaderRetryAfter, "30")
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("error interno")
		return c.Status(status).JSON(dto.ErrorResponse{Code: code, Message: "error interno"})
	}
	return c.Status(status).JSON(dto.ErrorResponse{Code: code, Message: err.Error()})
}
