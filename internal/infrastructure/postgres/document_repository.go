package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/nfse-emissor/internal/domain"
	"github.com/jhoicas/nfse-emissor/internal/domain/entity"
	"github.com/jhoicas/nfse-emissor/internal/domain/repository"
)

var _ repository.DocumentRepository = (*DocumentRepo)(nil)

// DocumentRepo implementación de DocumentRepository sobre PostgreSQL.
// Save es compare-and-swap sobre la columna version.
type DocumentRepo struct {
	pool *pgxpool.Pool
	tx   *TxRunner
}

// NewDocumentRepository construye el adaptador.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool, tx: NewTxRunner(pool)}
}

const documentColumns = `
	id, tenant_id, payer_id, issue_date, competence, due_date,
	service_value, deductions, iss_withheld, pis_withheld, cofins_withheld, csll_withheld, irrf_withheld, inss_withheld,
	net_value, description, municipality_code, service_code, series, sequence_number,
	provider, environment, authority_number, verification_code, receipt_id, authority_xml, authority_payload,
	rejection_reason, status, ambiguous_outcome, poll_attempts, last_polled_at, submitted_at, authorized_at,
	cancelled_at, cancellation_reason, version, created_at, updated_at`

// Create persiste cabecera e ítems en una transacción, con version 1.
func (r *DocumentRepo) Create(ctx context.Context, doc *entity.FiscalDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = entity.StatusDraft
	}
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	doc.Version = 1

	return r.tx.Run(ctx, func(q Querier) error {
		query := `INSERT INTO fiscal_documents (` + documentColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			        $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37, $38, $39)`
		w := doc.Withholdings
		_, err := q.Exec(ctx, query,
			doc.ID, doc.TenantID, nullIfEmpty(doc.PayerID), doc.IssueDate, doc.Competence, doc.DueDate,
			doc.ServiceValue, doc.Deductions, w.ISS, w.PIS, w.COFINS, w.CSLL, w.IRRF, w.INSS,
			doc.NetValue, doc.Description, doc.MunicipalityCode, doc.ServiceCode, doc.Series, doc.SequenceNumber,
			doc.Provider, doc.Environment, doc.AuthorityNumber, doc.VerificationCode, doc.ReceiptID, doc.AuthorityXML,
			jsonOrNil(doc.AuthorityPayload),
			doc.RejectionReason, string(doc.Status), doc.AmbiguousOutcome, doc.PollAttempts, doc.LastPolledAt,
			doc.SubmittedAt, doc.AuthorizedAt, doc.CancelledAt, doc.CancellationReason, doc.Version,
			doc.CreatedAt, doc.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("documento %s o serie/número ya existe: %w", doc.ID, domain.ErrInvalidInput)
			}
			return fmt.Errorf("insert fiscal_document: %w", err)
		}
		for i, it := range doc.Items {
			if it.ID == "" {
				it.ID = uuid.New().String()
			}
			it.DocumentID = doc.ID
			_, err := q.Exec(ctx, `
				INSERT INTO document_items (id, document_id, position, code, description, quantity, unit_value, total, tax_rate)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				it.ID, it.DocumentID, i+1, it.Code, it.Description, it.Quantity, it.UnitValue, it.Total, it.TaxRate,
			)
			if err != nil {
				return fmt.Errorf("insert document_item: %w", err)
			}
		}
		return nil
	})
}

// GetByID obtiene el documento con sus ítems. (nil, nil) si no existe.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*entity.FiscalDocument, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM fiscal_documents WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fiscal_document: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, code, description, quantity, unit_value, total, tax_rate
		FROM document_items WHERE document_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("list document_items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it entity.DocumentItem
		if err := rows.Scan(&it.ID, &it.DocumentID, &it.Code, &it.Description,
			&it.Quantity, &it.UnitValue, &it.Total, &it.TaxRate); err != nil {
			return nil, fmt.Errorf("scan document_item: %w", err)
		}
		doc.Items = append(doc.Items, &it)
	}
	return doc, rows.Err()
}

// Save actualiza valor líquido, correlación con la autoridad y ciclo de vida en una sola sentencia.
// El contenido del documento (fechas, montos brutos, ítems) no se modifica aquí.
func (r *DocumentRepo) Save(ctx context.Context, doc *entity.FiscalDocument) error {
	const query = `
		UPDATE fiscal_documents
		SET net_value           = $3,
		    provider            = $4,
		    environment         = $5,
		    authority_number    = $6,
		    verification_code   = $7,
		    receipt_id          = $8,
		    authority_xml       = $9,
		    authority_payload   = $10,
		    rejection_reason    = $11,
		    status              = $12,
		    ambiguous_outcome   = $13,
		    poll_attempts       = $14,
		    last_polled_at      = $15,
		    submitted_at        = $16,
		    authorized_at       = $17,
		    cancelled_at        = $18,
		    cancellation_reason = $19,
		    updated_at          = $20,
		    version             = version + 1
		WHERE id = $1 AND version = $2`
	cmd, err := r.pool.Exec(ctx, query,
		doc.ID, doc.Version, doc.NetValue, doc.Provider, doc.Environment,
		doc.AuthorityNumber, doc.VerificationCode, doc.ReceiptID, doc.AuthorityXML, jsonOrNil(doc.AuthorityPayload),
		doc.RejectionReason, string(doc.Status), doc.AmbiguousOutcome, doc.PollAttempts, doc.LastPolledAt,
		doc.SubmittedAt, doc.AuthorizedAt, doc.CancelledAt, doc.CancellationReason, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update fiscal_document: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fiscal_documents WHERE id = $1)`, doc.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check fiscal_document: %w", err)
		}
		if !exists {
			return fmt.Errorf("documento %s: %w", doc.ID, domain.ErrNotFound)
		}
		return domain.ErrVersionConflict
	}
	doc.Version++
	return nil
}

// ListSubmitted documentos SUBMITTED enviados antes de submittedBefore, más antiguos primero (sin ítems).
func (r *DocumentRepo) ListSubmitted(ctx context.Context, submittedBefore time.Time, limit int) ([]*entity.FiscalDocument, error) {
	return r.list(ctx, `
		SELECT `+documentColumns+` FROM fiscal_documents
		WHERE status = 'SUBMITTED' AND submitted_at <= $1
		ORDER BY submitted_at, id LIMIT $2`, submittedBefore, limit)
}

// ListAmbiguous documentos SUBMITTED con resultado ambiguo, para revisión manual (sin ítems).
func (r *DocumentRepo) ListAmbiguous(ctx context.Context, limit int) ([]*entity.FiscalDocument, error) {
	return r.list(ctx, `
		SELECT `+documentColumns+` FROM fiscal_documents
		WHERE status = 'SUBMITTED' AND ambiguous_outcome
		ORDER BY submitted_at, id LIMIT $1`, limit)
}

func (r *DocumentRepo) list(ctx context.Context, query string, args ...any) ([]*entity.FiscalDocument, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list fiscal_documents: %w", err)
	}
	defer rows.Close()

	var list []*entity.FiscalDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fiscal_document: %w", err)
		}
		list = append(list, doc)
	}
	return list, rows.Err()
}

func scanDocument(row pgxScanner) (*entity.FiscalDocument, error) {
	var (
		d       entity.FiscalDocument
		payerID *string
		status  string
	)
	w := &d.Withholdings
	err := row.Scan(
		&d.ID, &d.TenantID, &payerID, &d.IssueDate, &d.Competence, &d.DueDate,
		&d.ServiceValue, &d.Deductions, &w.ISS, &w.PIS, &w.COFINS, &w.CSLL, &w.IRRF, &w.INSS,
		&d.NetValue, &d.Description, &d.MunicipalityCode, &d.ServiceCode, &d.Series, &d.SequenceNumber,
		&d.Provider, &d.Environment, &d.AuthorityNumber, &d.VerificationCode, &d.ReceiptID, &d.AuthorityXML,
		&d.AuthorityPayload,
		&d.RejectionReason, &status, &d.AmbiguousOutcome, &d.PollAttempts, &d.LastPolledAt,
		&d.SubmittedAt, &d.AuthorizedAt, &d.CancelledAt, &d.CancellationReason, &d.Version,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.PayerID = derefString(payerID)
	d.Status = entity.DocumentStatus(status)
	return &d, nil
}

// jsonOrNil la columna es jsonb: payloads que no son JSON se guardan como NULL (el XML va aparte).
func jsonOrNil(b []byte) []byte {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return b
}
