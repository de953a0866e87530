// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package repository

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
	"gorm.io/gorm"
)

// Postgres SQLSTATE classes that indicate a retry may succeed: connection
// exceptions, transaction rollbacks (serialization, deadlock), insufficient
// resources and operator intervention.
var transientClasses = []string{"08", "40", "53", "57"}

// IsTransient reports whether err is worth retrying against the database.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		for _, class := range transientClasses {
			if strings.HasPrefix(pgErr.Code, class) {
				return true
			}
		}
	}
	return strings.Contains(err.Error(), "database is locked")
}

// wrap classifies a gorm error as NOT_FOUND or STORAGE_ERROR.
func wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.CodeNotFound, err, msg)
	}
	return apperr.Storage(err, msg).WithRetryable(IsTransient(err))
}
