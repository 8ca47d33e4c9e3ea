// Copyright 2014 The go-dexguard Authors
// This file is part of the go-dexguard library.
//
// The go-dexguard library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-dexguard library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-dexguard library. If not, see <http://www.gnu.org/licenses/>.

// Metrics collected by the verifier.
package verifier

import "github.com/ethereum/go-ethereum/metrics"

var (
	methodsTotalCounter       = metrics.NewRegisteredCounter("verifier/methods/total", nil)
	methodsHardFailureCounter = metrics.NewRegisteredCounter("verifier/methods/hard_failure", nil)
	methodsSoftFailureCounter = metrics.NewRegisteredCounter("verifier/methods/soft_failure", nil)
	arenaBytesGauge           = metrics.NewRegisteredGauge("verifier/arena_bytes", nil)
)
