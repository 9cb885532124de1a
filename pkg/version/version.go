// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package version exposes the build version stamped in at link time.
package version

import "github.com/united-manufacturing-hub/airlink/pkg/constants"

// AppVersion is set by the release build:
//
//	go build -ldflags "-X github.com/united-manufacturing-hub/airlink/pkg/version.AppVersion=1.2.3"
var AppVersion string

// GetAppVersion returns the stamped version, or the development default when
// the binary was built without one.
func GetAppVersion() string {
	if AppVersion == "" {
		return constants.DefaultAppVersion
	}

	return AppVersion
}
