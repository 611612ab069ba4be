package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/flatchores/internal/model"
)

// ApartmentStore owns apartments, their members and the per-member point
// balance. Balance changes are single SQL statements so they compose with the
// caller's transaction.
type ApartmentStore struct {
	db *sql.DB
}

func NewApartmentStore(db *sql.DB) *ApartmentStore {
	return &ApartmentStore{db: db}
}

func scanApartment(sc scanner) (*model.Apartment, error) {
	var a model.Apartment
	err := sc.Scan(&a.ID, &a.Name, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanMember(sc scanner) (*model.ApartmentMember, error) {
	var m model.ApartmentMember
	err := sc.Scan(&m.ID, &m.ApartmentID, &m.UserID, &m.Role, &m.Points, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const apartmentCols = `id, name, created_at, updated_at`
const memberCols = `id, apartment_id, user_id, role, points, created_at, updated_at`

func (s *ApartmentStore) Create(ctx context.Context, name string) (*model.Apartment, error) {
	result, err := executor(ctx, s.db).ExecContext(ctx, `INSERT INTO apartments (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("insert apartment: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *ApartmentStore) GetByID(ctx context.Context, id int64) (*model.Apartment, error) {
	row := executor(ctx, s.db).QueryRowContext(ctx, `SELECT `+apartmentCols+` FROM apartments WHERE id = ?`, id)
	a, err := scanApartment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get apartment: %w", err)
	}
	return a, nil
}

func (s *ApartmentStore) AddMember(ctx context.Context, apartmentID, userID int64, role string) (*model.ApartmentMember, error) {
	_, err := executor(ctx, s.db).ExecContext(ctx,
		`INSERT INTO apartment_members (apartment_id, user_id, role) VALUES (?, ?, ?)`,
		apartmentID, userID, role,
	)
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	return s.GetMember(ctx, apartmentID, userID)
}

// GetMember returns the membership row, or nil if the user is not a member.
func (s *ApartmentStore) GetMember(ctx context.Context, apartmentID, userID int64) (*model.ApartmentMember, error) {
	row := executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+memberCols+` FROM apartment_members WHERE apartment_id = ? AND user_id = ?`,
		apartmentID, userID,
	)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *ApartmentStore) IsMember(ctx context.Context, apartmentID, userID int64) (bool, error) {
	var n int
	err := executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM apartment_members WHERE apartment_id = ? AND user_id = ?`,
		apartmentID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check member: %w", err)
	}
	return n > 0, nil
}

// AwardPoints credits a member. It is a no-op for a user who has left the
// apartment; the caller learns that from the false result.
func (s *ApartmentStore) AwardPoints(ctx context.Context, apartmentID, userID int64, points int) (bool, error) {
	result, err := executor(ctx, s.db).ExecContext(ctx,
		`UPDATE apartment_members SET points = points + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE apartment_id = ? AND user_id = ?`,
		points, apartmentID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("award points: %w", err)
	}
	return affectedOne(result)
}

// ReversePoints debits a member, clamping the balance at zero. Any remainder
// below zero is discarded.
func (s *ApartmentStore) ReversePoints(ctx context.Context, apartmentID, userID int64, points int) (bool, error) {
	result, err := executor(ctx, s.db).ExecContext(ctx,
		`UPDATE apartment_members SET points = MAX(points - ?, 0), updated_at = CURRENT_TIMESTAMP
		 WHERE apartment_id = ? AND user_id = ?`,
		points, apartmentID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("reverse points: %w", err)
	}
	return affectedOne(result)
}

// Balance returns the member's points, or 0 for a non-member.
func (s *ApartmentStore) Balance(ctx context.Context, apartmentID, userID int64) (int, error) {
	var points int
	err := executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT points FROM apartment_members WHERE apartment_id = ? AND user_id = ?`,
		apartmentID, userID,
	).Scan(&points)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return points, nil
}

// ListBalances returns every member's balance, highest first.
func (s *ApartmentStore) ListBalances(ctx context.Context, apartmentID int64) ([]model.PointBalance, error) {
	rows, err := executor(ctx, s.db).QueryContext(ctx,
		`SELECT am.user_id, u.name, am.points
		 FROM apartment_members am
		 JOIN users u ON u.id = am.user_id
		 WHERE am.apartment_id = ?
		 ORDER BY am.points DESC, u.name ASC`,
		apartmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var balances []model.PointBalance
	for rows.Next() {
		var b model.PointBalance
		if err := rows.Scan(&b.UserID, &b.UserName, &b.Balance); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// ListMemberUsers returns the users belonging to the apartment, by name.
func (s *ApartmentStore) ListMemberUsers(ctx context.Context, apartmentID int64) ([]model.User, error) {
	rows, err := executor(ctx, s.db).QueryContext(ctx,
		`SELECT u.id, u.email, u.name, u.created_at, u.updated_at
		 FROM apartment_members am
		 JOIN users u ON u.id = am.user_id
		 WHERE am.apartment_id = ?
		 ORDER BY u.name ASC`,
		apartmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list member users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
