package postgres

import (
	"context"
	"database/sql"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/repository"
)

type vehicleRepository struct {
	db *sql.DB
}

func NewVehicleRepository(db *sql.DB) repository.VehicleRepository {
	return &vehicleRepository{db: db}
}

func (r *vehicleRepository) GetByID(ctx context.Context, id int64) (*domain.Vehicle, error) {
	query := `SELECT id, name, plate_number, hourly_rate, vehicle_price, status FROM vehicles WHERE id = $1`
	return r.get(ctx, query, id)
}

func (r *vehicleRepository) LockForBooking(ctx context.Context, id int64) (*domain.Vehicle, error) {
	query := `SELECT id, name, plate_number, hourly_rate, vehicle_price, status FROM vehicles WHERE id = $1 FOR UPDATE`
	return r.get(ctx, query, id)
}

func (r *vehicleRepository) get(ctx context.Context, query string, id int64) (*domain.Vehicle, error) {
	var v domain.Vehicle
	err := conn(ctx, r.db).QueryRowContext(ctx, query, id).
		Scan(&v.ID, &v.Name, &v.PlateNumber, &v.HourlyRate, &v.VehiclePrice, &v.Status)
	if err != nil {
		return nil, notFound(err, domain.ErrVehicleNotFound)
	}
	return &v, nil
}

type customerRepository struct {
	db *sql.DB
}

func NewCustomerRepository(db *sql.DB) repository.CustomerRepository {
	return &customerRepository{db: db}
}

func (r *customerRepository) GetByID(ctx context.Context, id int64) (*domain.Customer, error) {
	query := `SELECT id, name, email, COALESCE(push_token, ''), created_at FROM customers WHERE id = $1`
	var c domain.Customer
	err := conn(ctx, r.db).QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.Email, &c.PushToken, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err, domain.ErrCustomerNotFound)
	}
	return &c, nil
}
