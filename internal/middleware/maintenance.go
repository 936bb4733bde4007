// Copyright 2021 the Exposure Key Server authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package middleware

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

// retryAfterSeconds is the value of the Retry-After header sent with
// maintenance responses.
const retryAfterSeconds = 300

// MaintenanceModeProvider reports whether the server is currently paused for
// maintenance.
type MaintenanceModeProvider interface {
	MaintenanceMode() bool
}

// ProcessMaintenance short-circuits all requests with a 429 while the
// provider has maintenance mode on.
func ProcessMaintenance(provider MaintenanceModeProvider) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if provider.MaintenanceMode() {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds))
				http.Error(w, "server is undergoing maintenance, please retry later", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
