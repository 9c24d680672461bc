/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package httpapi

import (
	"github.com/go-playground/validator/v10"

	"github.com/jordigilh/riskline/internal/errkind"
)

// validate is the shared validator instance; struct tags on request
// types and on the domain option types carry the actual rules.
var validate = validator.New(validator.WithRequiredStructEnabled())

// checkStruct runs validator tags over v and converts any violation
// into a validation-kind error so it surfaces as a 400.
func checkStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return errkind.Wrap(errkind.Validation, err, "request validation failed")
	}
	return nil
}
