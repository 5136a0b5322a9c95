package identity

import (
	"context"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SetPasswordSQL replaces the credential and updates the forced change
// flag in one statement so concurrent mutations serialize on the row.
var SetPasswordSQL = `UPDATE "principals" AS "prn"
SET
	"password_hash" = ?,
	"must_change_password" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"prn"."id" = ?
RETURNING *;`

// Principals is the credential store backing all three engines
type Principals interface {
	repository.Repository[*Principal]

	GetByEmail(ctx context.Context, email string) (*Principal, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Principal, error)
	GetByEmailAndPhone(ctx context.Context, email, phone string) (*Principal, error)

	Create(ctx context.Context, record *Principal, criteria ...repository.InsertCriteria) (*Principal, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Principal, criteria ...repository.InsertCriteria) (*Principal, error)

	SetPassword(ctx context.Context, id uuid.UUID, passwordHash string, mustChange bool) error
	SetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, mustChange bool) error
}

type principals struct {
	repository.Repository[*Principal]
	db *bun.DB
}

var (
	_ Principals                        = (*principals)(nil)
	_ repository.Repository[*Principal] = (*principals)(nil)
)

func NewPrincipalsRepository(db *bun.DB) Principals {
	repo := repository.NewRepository[*Principal](db, repository.ModelHandlers[*Principal]{
		NewRecord: func() *Principal { return &Principal{} },
		GetID: func(p *Principal) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Principal, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &principals{
		Repository: repo,
		db:         db,
	}
}

func (r *principals) GetByEmail(ctx context.Context, email string) (*Principal, error) {
	return r.GetByEmailTx(ctx, r.db, email)
}

func (r *principals) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Principal, error) {
	record := &Principal{}
	err := tx.NewSelect().
		Model(record).
		Where("LOWER(?TableAlias.email) = LOWER(?)", strings.TrimSpace(email)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"email": email})
		}
		return nil, err
	}

	return record, nil
}

// GetByEmailAndPhone resolves a principal only when both channels
// match; phone comparison happens on normalized numbers.
func (r *principals) GetByEmailAndPhone(ctx context.Context, email, phone string) (*Principal, error) {
	record, err := r.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if record.Phone == "" || !SamePhone(record.Phone, phone) {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"email": email})
	}

	return record, nil
}

func (r *principals) Create(ctx context.Context, record *Principal, criteria ...repository.InsertCriteria) (*Principal, error) {
	return r.CreateTx(ctx, r.db, record, criteria...)
}

func (r *principals) CreateTx(ctx context.Context, tx bun.IDB, record *Principal, criteria ...repository.InsertCriteria) (*Principal, error) {
	preparePrincipalDefaults(record)
	return r.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (r *principals) SetPassword(ctx context.Context, id uuid.UUID, passwordHash string, mustChange bool) error {
	return r.SetPasswordTx(ctx, r.db, id, passwordHash, mustChange)
}

func (r *principals) SetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string, mustChange bool) error {
	res, err := r.Repository.RawTx(ctx, tx, SetPasswordSQL, passwordHash, mustChange, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String()})
	}

	return nil
}

func preparePrincipalDefaults(record *Principal) {
	if record == nil {
		return
	}

	record.Email = strings.ToLower(strings.TrimSpace(record.Email))

	if record.Role == "" {
		record.Role = DefaultStaffRole
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
