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

type patientRepository struct {
	BaseRepository
}

func NewPatientRepository(base BaseRepository) repository.PatientRepository {
	return &patientRepository{base}
}

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	query := `
		INSERT INTO patients (
			id, name, date_of_birth, gender, complaint, added_by, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	patient.ID = uuid.New()
	patient.CreatedAt = time.Now()
	patient.UpdatedAt = patient.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		patient.ID, patient.Name, patient.DateOfBirth, patient.Gender,
		patient.Complaint, patient.AddedBy, patient.Status,
		patient.CreatedAt, patient.UpdatedAt,
	)
	if err != nil {
		return mapErr("patient", err)
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	query := `
		SELECT id, name, date_of_birth, gender, complaint, added_by, status,
			approved_by, approved_at, rejection_reason, created_at, updated_at
		FROM patients WHERE id = $1
	`
	var patient model.Patient
	if err := r.db.GetContext(ctx, &patient, query, id); err != nil {
		return nil, mapErr("patient", err)
	}
	return &patient, nil
}

func (r *patientRepository) Update(ctx context.Context, patient *model.Patient) error {
	query := `
		UPDATE patients
		SET name = $1, complaint = $2, status = $3, approved_by = $4,
			approved_at = $5, rejection_reason = $6, updated_at = $7
		WHERE id = $8
	`
	patient.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, query,
		patient.Name, patient.Complaint, patient.Status, patient.ApprovedBy,
		patient.ApprovedAt, patient.RejectionReason, patient.UpdatedAt, patient.ID,
	)
	if err != nil {
		return mapErr("patient", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("patient", nil)
	}
	return nil
}

func (r *patientRepository) List(ctx context.Context, filter *model.PatientFilter) ([]*model.Patient, error) {
	query := `
		SELECT id, name, date_of_birth, gender, complaint, added_by, status,
			approved_by, approved_at, rejection_reason, created_at, updated_at
		FROM patients WHERE 1=1
	`
	args := []interface{}{}
	if filter != nil {
		if filter.AddedBy != nil {
			args = append(args, *filter.AddedBy)
			query += " AND added_by = $" + strconv.Itoa(len(args))
		}
		if filter.Status != nil {
			args = append(args, *filter.Status)
			query += " AND status = $" + strconv.Itoa(len(args))
		}
	}
	query += " ORDER BY created_at DESC, id DESC"

	var patients []*model.Patient
	if err := r.db.SelectContext(ctx, &patients, query, args...); err != nil {
		return nil, mapErr("patients", err)
	}
	return patients, nil
}
