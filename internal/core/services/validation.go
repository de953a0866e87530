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

// Package services holds the application's use cases: ingesting and managing
// media, searching it, and maintaining the vector index. Handlers and
// listeners call services; services call the repository, the store, the
// index and the providers.
package services

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/jaycherian/gcp-go-photo-search/internal/core/apperr"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateStruct runs the struct tags of v and reports violations as a
// VALIDATION_ERROR listing each field.
func validateStruct(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.CodeValidation, err, "invalid request")
	}
	details := make(map[string]string, len(verrs))
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = describeViolation(fe)
		fields = append(fields, fe.Field())
	}
	return apperr.Newf(apperr.CodeValidation, "invalid %s", strings.Join(fields, ", ")).WithDetails(details)
}

func describeViolation(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	}
	return fmt.Sprintf("failed %s", fe.Tag())
}
