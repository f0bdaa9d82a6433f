package repository

import (
	"errors"
	"fmt"
	"strings"

	netyora_errors "netyora-chat/pkg/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// mapError translates gorm errors into error kinds.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return netyora_errors.ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", netyora_errors.ErrConflict, err)
	}
	return err
}

// likePattern escapes LIKE wildcards in a user-supplied search term.
func likePattern(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + strings.ToLower(replacer.Replace(term)) + "%"
}
