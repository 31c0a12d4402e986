/*
 * Copyright 2025 BranchWatch Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package alerting

import (
	"fmt"

	"github.com/branchwatch/branchwatch/pkg/models"
)

// FaultInput is the evidence tuple fed to the ISP fault classifier.
type FaultInput struct {
	DevicePingUp bool
	OperUp       bool
	AdminUp      bool

	CRCErrors uint64

	ErrorRatePct float64
	ErrorCount   uint64

	DiscardRatePct float64
	DiscardCount   uint64

	// Provider labels the far side in verdict messages ("Telco-East" etc.).
	Provider string
}

const (
	crcLinkFaultFloor  = 100
	crcNoiseFloor      = 50
	errorRateLimitPct  = 1.0
	errorCountLimit    = 1000
	discardRateLimit   = 2.0
	discardCountLimit  = 5000
)

// ClassifyFault decides which side of an ISP handoff a fault sits on. The
// rows are ordered; the first match wins.
func ClassifyFault(in FaultInput) models.FaultVerdict {
	provider := in.Provider
	if provider == "" {
		provider = "the provider"
	}

	switch {
	case !in.DevicePingUp:
		return models.FaultVerdict{
			Side:       models.FaultCustomerSide,
			Confidence: 0.95,
			Message:    "Device unreachable from the monitoring side, fault is before the handoff to " + provider,
		}
	case !in.OperUp && !in.AdminUp:
		return models.FaultVerdict{
			Side:       models.FaultCustomerSide,
			Confidence: 1.00,
			Message:    "Interface administratively down, not a fault on " + provider,
		}
	case !in.OperUp && in.AdminUp && in.CRCErrors > crcLinkFaultFloor:
		return models.FaultVerdict{
			Side:       models.FaultCustomerSide,
			Confidence: 0.85,
			Message:    fmt.Sprintf("Link down with %d CRC errors, local cabling or optics toward %s", in.CRCErrors, provider),
		}
	case !in.OperUp && in.AdminUp:
		return models.FaultVerdict{
			Side:       models.FaultUndetermined,
			Confidence: 0.50,
			Message:    "Link down without local error evidence, check with " + provider,
		}
	case in.OperUp && in.AdminUp && (in.ErrorRatePct > errorRateLimitPct || in.ErrorCount > errorCountLimit):
		return models.FaultVerdict{
			Side:       models.FaultISPSide,
			Confidence: 0.90,
			Message:    fmt.Sprintf("Link up but inbound errors high (%d, %.1f%%), degradation on the %s side", in.ErrorCount, in.ErrorRatePct, provider),
		}
	case in.OperUp && in.AdminUp && (in.DiscardRatePct > discardRateLimit || in.DiscardCount > discardCountLimit):
		return models.FaultVerdict{
			Side:       models.FaultISPSide,
			Confidence: 0.75,
			Message:    fmt.Sprintf("Link up with elevated discards (%d, %.1f%%), likely congestion on the %s side", in.DiscardCount, in.DiscardRatePct, provider),
		}
	case in.OperUp && in.AdminUp && in.CRCErrors > crcNoiseFloor:
		return models.FaultVerdict{
			Side:       models.FaultCustomerSide,
			Confidence: 0.80,
			Message:    fmt.Sprintf("Link up with %d CRC errors, local physical layer toward %s", in.CRCErrors, provider),
		}
	default:
		return models.FaultVerdict{
			Side:       models.FaultUndetermined,
			Confidence: 0,
			Message:    "Insufficient evidence to place the fault",
		}
	}
}
