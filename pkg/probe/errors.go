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

package probe

import "errors"

var (
	// ErrInvalidTarget indicates the probe target is not a usable address.
	ErrInvalidTarget = errors.New("probe: invalid target address")
	// ErrUnsupportedSNMPVersion indicates a credential with an unknown version.
	ErrUnsupportedSNMPVersion = errors.New("probe: unsupported SNMP version")
	// ErrWalkLimitExceeded indicates a walk returned more rows than the cap.
	ErrWalkLimitExceeded = errors.New("probe: walk result limit exceeded")
	// ErrNoSuchObject indicates the agent does not implement the requested OID.
	ErrNoSuchObject = errors.New("probe: no such object")
	// ErrUnknownSecurityLevel indicates a v3 credential with an unrecognized
	// security level.
	ErrUnknownSecurityLevel = errors.New("probe: unknown SNMPv3 security level")
	// ErrUnknownAuthProtocol indicates a v3 credential requiring auth with an
	// unrecognized auth protocol.
	ErrUnknownAuthProtocol = errors.New("probe: unknown SNMPv3 auth protocol")
	// ErrUnknownPrivProtocol indicates a v3 credential requiring privacy with
	// an unrecognized privacy protocol.
	ErrUnknownPrivProtocol = errors.New("probe: unknown SNMPv3 privacy protocol")
)
