// Copyright 2020 the Exposure Key Server authors
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

// Package timeutils provides common day-granularity time manipulations. The
// export pipeline does all of its window math at UTC midnight boundaries.
package timeutils

import (
	"time"
)

// UTCMidnight returns midnight (00:00) in UTC on the date of the provided
// time. The date is taken in the time's own location.
func UTCMidnight(t time.Time) time.Time {
	return MidnightInLocation(t, time.UTC)
}

// LocalMidnight returns midnight (00:00) on the date of the provided time, in
// that time's location.
func LocalMidnight(t time.Time) time.Time {
	return MidnightInLocation(t, t.Location())
}

// Midnight is an alias for LocalMidnight.
func Midnight(t time.Time) time.Time {
	return LocalMidnight(t)
}

// MidnightInLocation returns midnight (00:00) on the date of the provided
// time, in the provided location.
func MidnightInLocation(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
