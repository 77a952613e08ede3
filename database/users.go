package database

import (
	"errors"

	"checkout-service/models"

	"github.com/go-sql-driver/mysql"
)

const mysqlErrDuplicateEntry = 1062

func GetUserByEmail(email string) (*models.User, error) {
	var user models.User
	err := DB.QueryRow(
		`SELECT id, email, password_hash, email_confirmed, created_at
		 FROM users WHERE email = ?`, email).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.EmailConfirmed, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUserByID(id int64) (*models.User, error) {
	var user models.User
	err := DB.QueryRow(
		`SELECT id, email, password_hash, email_confirmed, created_at
		 FROM users WHERE id = ?`, id).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.EmailConfirmed, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ErrUserExists is returned when a concurrent insert won the unique-email
// race; callers re-fetch and reuse the winning row.
var ErrUserExists = errors.New("user already exists")

// CreateGuestUser inserts an auto-confirmed account for a guest checkout.
// The password hash is minted server-side and never leaves the service.
func CreateGuestUser(email, passwordHash string) (*models.User, error) {
	result, err := DB.Exec(
		`INSERT INTO users (email, password_hash, email_confirmed, created_at)
		 VALUES (?, ?, TRUE, NOW())`,
		email, passwordHash,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return nil, ErrUserExists
		}
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.User{ID: id, Email: email, EmailConfirmed: true}, nil
}
