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

// Package discovery walks IF-MIB and the neighbor MIBs to keep the interface
// inventory and topology current. The classifier maps interface naming to a
// role; the walkers upsert rows keyed by (device_id, if_index).
package discovery

import (
	"regexp"
	"strings"

	"github.com/branchwatch/branchwatch/pkg/models"
)

// Classification is the parser verdict for one interface.
type Classification struct {
	Type        models.InterfaceType
	ISPProvider string
	IsCritical  bool
	Confidence  float64
}

// classRule is one row of the ordered classification table. The first rule
// whose pattern matches alias, descr or name wins.
type classRule struct {
	pattern    *regexp.Regexp
	class      models.InterfaceType
	critical   bool
	confidence float64
}

// Ordered: ISP uplinks must win over everything, loopbacks before the
// catch-all. ISP interfaces are always critical.
var classRules = []classRule{
	{regexp.MustCompile(`(?i)\b(isp|wan|internet|uplink|transit|upstream)\b`), models.InterfaceTypeISP, true, 0.9},
	{regexp.MustCompile(`(?i)(\b(trunk|lag|bond|ether-?channel|port-?channel)\b|^po\d+$)`), models.InterfaceTypeTrunk, true, 0.85},
	{regexp.MustCompile(`(?i)\b(server|srv|esxi?|vmware|hypervisor|nas|san)\b`), models.InterfaceTypeServerLink, false, 0.75},
	{regexp.MustCompile(`(?i)\b(branch|site|office|p2p|mpls)\b`), models.InterfaceTypeBranchLink, true, 0.75},
	{regexp.MustCompile(`(?i)\b(mgmt|management|oob)\b`), models.InterfaceTypeManagement, false, 0.8},
	{regexp.MustCompile(`(?i)\b(access|user|desktop|workstation)\b`), models.InterfaceTypeAccess, false, 0.6},
	{regexp.MustCompile(`(?i)^(lo\d*|loopback\d*)$`), models.InterfaceTypeLoopback, false, 1.0},
	{regexp.MustCompile(`(?i)\b(voice|voip|phone|pbx)\b`), models.InterfaceTypeVoice, false, 0.7},
	{regexp.MustCompile(`(?i)\b(camera|cctv|nvr|ipcam)\b`), models.InterfaceTypeCamera, false, 0.7},
}

// providerPattern pulls the provider label trailing an ISP keyword, e.g.
// "WAN: Telco-East" or "isp-comcast".
var providerPattern = regexp.MustCompile(`(?i)(?:isp|wan|internet|uplink|transit|upstream)[\s:_=-]+([A-Za-z0-9][A-Za-z0-9 ._-]*)`)

// coreTagPattern marks server links worth critical monitoring.
var coreTagPattern = regexp.MustCompile(`(?i)\b(core|prod|production)\b`)

// Classify maps interface naming to a role. Alias is checked before descr
// and name since aliases carry operator intent.
func Classify(name, descr, alias string) Classification {
	candidates := []string{alias, descr, name}

	for _, rule := range classRules {
		for _, text := range candidates {
			if text == "" || !rule.pattern.MatchString(text) {
				continue
			}

			c := Classification{
				Type:       rule.class,
				IsCritical: rule.critical,
				Confidence: rule.confidence,
			}

			switch rule.class {
			case models.InterfaceTypeISP:
				c.ISPProvider = extractProvider(candidates)
			case models.InterfaceTypeServerLink:
				c.IsCritical = hasCoreTag(candidates)
			}

			return c
		}
	}

	return Classification{Type: models.InterfaceTypeOther}
}

func extractProvider(candidates []string) string {
	for _, text := range candidates {
		m := providerPattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		provider := strings.TrimSpace(m[1])
		if provider != "" {
			return provider
		}
	}

	return ""
}

func hasCoreTag(candidates []string) bool {
	for _, text := range candidates {
		if coreTagPattern.MatchString(text) {
			return true
		}
	}

	return false
}
