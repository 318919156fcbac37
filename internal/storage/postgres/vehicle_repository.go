package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/avtodom/dms/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type vehicleRepository struct {
	db *sql.DB
}

// NewVehicleRepository создаёт PostgreSQL-реализацию VehicleRepository.
func NewVehicleRepository(store *Store) domain.VehicleRepository {
	return &vehicleRepository{db: store.DB()}
}

func (r *vehicleRepository) Create(ctx context.Context, vehicle domain.VehicleStock) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO vehicles (
			id, make, model, price_minor, stock, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		vehicle.ID, vehicle.Make, vehicle.Model, vehicle.PriceMinor,
		vehicle.Stock, vehicle.Version, vehicle.CreatedAt, vehicle.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVehicleAlreadyExists
		}
		return fmt.Errorf("insert vehicle: %w", err)
	}

	return nil
}

func (r *vehicleRepository) Get(ctx context.Context, id string) (domain.VehicleStock, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var vehicle domain.VehicleStock
	err := r.db.QueryRowContext(ctx, `
		SELECT id, make, model, price_minor, stock, version, created_at, updated_at
		FROM vehicles
		WHERE id = $1
	`, id).Scan(
		&vehicle.ID, &vehicle.Make, &vehicle.Model, &vehicle.PriceMinor,
		&vehicle.Stock, &vehicle.Version, &vehicle.CreatedAt, &vehicle.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.VehicleStock{}, domain.ErrVehicleNotFound
		}
		return domain.VehicleStock{}, fmt.Errorf("select vehicle: %w", err)
	}

	return vehicle, nil
}

// ReserveStock выполняет резерв одним условным UPDATE: проверка stock >= qty
// и декремент происходят в одной атомарной операции на стороне БД. Никакого
// read-then-write: два конкурентных checkout не могут оба пройти проверку.
func (r *vehicleRepository) ReserveStock(ctx context.Context, id string, qty int32) error {
	if qty < 1 {
		return domain.ErrQuantityInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE vehicles
		SET stock = stock - $1,
		    version = version + 1,
		    updated_at = $2
		WHERE id = $3
		  AND stock >= $1
	`, qty, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for reserve: %w", err)
	}
	if affected == 0 {
		exists, err := r.vehicleExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrVehicleNotFound
		}
		return domain.ErrInsufficientStock
	}

	return nil
}

// RestoreStock возвращает qty единиц на склад — компенсация для строки,
// упавшей после успешного резерва.
func (r *vehicleRepository) RestoreStock(ctx context.Context, id string, qty int32) error {
	if qty < 1 {
		return domain.ErrQuantityInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE vehicles
		SET stock = stock + $1,
		    version = version + 1,
		    updated_at = $2
		WHERE id = $3
	`, qty, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("restore stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for restore: %w", err)
	}
	if affected == 0 {
		return domain.ErrVehicleNotFound
	}

	return nil
}

// SetStock выставляет остаток напрямую (инвентарный CRUD) с optimistic
// locking: прямые правки не должны обгонять конкурентные резервы.
func (r *vehicleRepository) SetStock(ctx context.Context, id string, stock int32, version int64) error {
	if stock < 0 {
		return domain.ErrStockNegative
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE vehicles
		SET stock = $1,
		    version = version + 1,
		    updated_at = $2
		WHERE id = $3
		  AND version = $4
	`, stock, time.Now().UTC(), id, version)
	if err != nil {
		return fmt.Errorf("set stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for set stock: %w", err)
	}
	if affected == 0 {
		exists, err := r.vehicleExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrVehicleNotFound
		}
		return domain.ErrVehicleVersionConflict
	}

	return nil
}

func (r *vehicleRepository) vehicleExists(ctx context.Context, id string) (bool, error) {
	var found string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM vehicles WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check vehicle exists: %w", err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.VehicleRepository = (*vehicleRepository)(nil)
