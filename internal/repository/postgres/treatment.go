package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/repository"
	"github.com/careflow/clinical-records/pkg/apperror"
)

type treatmentRepository struct {
	BaseRepository
}

func NewTreatmentRepository(base BaseRepository) repository.TreatmentRepository {
	return &treatmentRepository{base}
}

func (r *treatmentRepository) Create(ctx context.Context, treatment *model.Treatment) error {
	query := `
		INSERT INTO treatments (
			id, patient_id, added_by, procedure, notes, status, approval_status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	treatment.ID = uuid.New()
	treatment.CreatedAt = time.Now()
	treatment.UpdatedAt = treatment.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		treatment.ID, treatment.PatientID, treatment.AddedBy,
		treatment.Procedure, treatment.Notes, treatment.Status,
		treatment.ApprovalStatus, treatment.CreatedAt, treatment.UpdatedAt,
	)
	if err != nil {
		return mapErr("treatment", err)
	}
	return nil
}

func (r *treatmentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Treatment, error) {
	query := `
		SELECT id, patient_id, added_by, procedure, notes, status,
			approval_status, approved_by, approved_at, created_at, updated_at
		FROM treatments WHERE id = $1
	`
	var treatment model.Treatment
	if err := r.db.GetContext(ctx, &treatment, query, id); err != nil {
		return nil, mapErr("treatment", err)
	}
	return &treatment, nil
}

func (r *treatmentRepository) Update(ctx context.Context, treatment *model.Treatment) error {
	query := `
		UPDATE treatments
		SET notes = $1, status = $2, approval_status = $3, approved_by = $4,
			approved_at = $5, updated_at = $6
		WHERE id = $7
	`
	treatment.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, query,
		treatment.Notes, treatment.Status, treatment.ApprovalStatus,
		treatment.ApprovedBy, treatment.ApprovedAt, treatment.UpdatedAt,
		treatment.ID,
	)
	if err != nil {
		return mapErr("treatment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("treatment", nil)
	}
	return nil
}

func (r *treatmentRepository) List(ctx context.Context, filter *model.TreatmentFilter) ([]*model.Treatment, error) {
	query := `
		SELECT id, patient_id, added_by, procedure, notes, status,
			approval_status, approved_by, approved_at, created_at, updated_at
		FROM treatments WHERE 1=1
	`
	args := []interface{}{}
	if filter != nil {
		if filter.PatientID != nil {
			args = append(args, *filter.PatientID)
			query += " AND patient_id = $" + strconv.Itoa(len(args))
		}
		if filter.AddedBy != nil {
			args = append(args, *filter.AddedBy)
			query += " AND added_by = $" + strconv.Itoa(len(args))
		}
		if filter.ApprovalStatus != nil {
			args = append(args, *filter.ApprovalStatus)
			query += " AND approval_status = $" + strconv.Itoa(len(args))
		}
	}
	query += " ORDER BY created_at DESC, id DESC"

	var treatments []*model.Treatment
	if err := r.db.SelectContext(ctx, &treatments, query, args...); err != nil {
		return nil, mapErr("treatments", err)
	}
	return treatments, nil
}
