package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the rest of the module reacts to.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeNotNullViolation    = "23502"
	CodeCheckViolation      = "23514"
	CodeInvalidText         = "22P02"
	CodeUndefinedTable      = "42P01"
)

// Error wraps any failure reported by a backend. Code is the SQLSTATE when
// the backend supplied one.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string { return "Database Error: " + e.Message }

func (e *Error) Unwrap() error { return e.Err }

// SQLState returns the SQLSTATE code, or "" when unknown.
func (e *Error) SQLState() string { return e.Code }

// wrap converts err to *Error, keeping an existing *Error as is.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var dbErr *Error
	if errors.As(err, &dbErr) {
		return err
	}

	e := &Error{Message: err.Error(), Err: err}
	var pgErr *pgconn.PgError
	var coded interface{ SQLState() string }
	switch {
	case errors.As(err, &pgErr):
		e.Code = pgErr.Code
		e.Message = pgErr.Message
		if pgErr.Detail != "" {
			e.Message += " (" + pgErr.Detail + ")"
		}
	case errors.As(err, &coded):
		e.Code = coded.SQLState()
	}
	return e
}

// Code returns the SQLSTATE carried by err, or "".
func Code(err error) string {
	var coded interface{ SQLState() string }
	if errors.As(err, &coded) {
		return coded.SQLState()
	}
	return ""
}

func IsUniqueViolation(err error) bool     { return Code(err) == CodeUniqueViolation }
func IsForeignKeyViolation(err error) bool { return Code(err) == CodeForeignKeyViolation }
func IsNotNullViolation(err error) bool    { return Code(err) == CodeNotNullViolation }
func IsUndefinedTable(err error) bool      { return Code(err) == CodeUndefinedTable }
