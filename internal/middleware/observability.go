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
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rotwarn/exposure-key-server/pkg/observability"
)

// PopulateObservability attaches the build info to the request context so
// that metrics recorded downstream are tagged with the running build.
func PopulateObservability(info observability.BuildInfo) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := observability.WithBuildInfo(r.Context(), info)
			next.ServeHTTP(w, r.Clone(ctx))
		})
	}
}
