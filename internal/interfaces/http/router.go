package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/jhoicas/nfse-emissor/internal/application/usecase"
	"github.com/jhoicas/nfse-emissor/pkg/jwt"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	DocumentUC *usecase.DocumentUseCase
	PayerUC    *usecase.PayerUseCase
	CompanyUC  *usecase.CompanyUseCase
	JWTSecret  string
	JWTIssuer  string
	Logger     zerolog.Logger
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	// Rutas protegidas (requieren Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret, deps.JWTIssuer))

	admin := RequireRole(jwt.RoleAdmin)
	operate := RequireRole(jwt.RoleAdmin, jwt.RoleEmissor)
	read := RequireRole(jwt.RoleAdmin, jwt.RoleEmissor, jwt.RoleAuditor)

	company := protected.Group("/company")
	companyHandler := NewCompanyHandler(deps.CompanyUC, deps.Logger)
	company.Get("/", read, companyHandler.Get)
	company.Get("/nfse-config", admin, companyHandler.GetNFSeConfig)
	company.Put("/nfse-config", admin, companyHandler.SetNFSeConfig)

	payers := protected.Group("/payers")
	payerHandler := NewPayerHandler(deps.PayerUC, deps.Logger)
	payers.Post("/", operate, payerHandler.Create)
	payers.Get("/", read, payerHandler.List)
	payers.Get("/:id", read, payerHandler.GetByID)

	documents := protected.Group("/documents")
	documentHandler := NewDocumentHandler(deps.DocumentUC, deps.Logger)
	documents.Post("/", operate, documentHandler.Create)
	documents.Get("/:id", read, documentHandler.GetByID)
	documents.Post("/:id/submit", operate, documentHandler.Submit)
	documents.Post("/:id/poll", operate, documentHandler.Poll)
	documents.Post("/:id/cancel", operate, documentHandler.Cancel)
}
