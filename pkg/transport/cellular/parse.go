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

package cellular

import (
	"regexp"
	"strconv"
)

// Fixed-format matchers for the Quectel AT answers. The modem echoes the
// command and decorates answers with whitespace and CRLF, so every matcher
// scans the raw response instead of assuming a line layout.
var (
	csqPattern     = regexp.MustCompile(`\+CSQ:\s*(\d+),(\d+)`)
	qnwinfoPattern = regexp.MustCompile(`\+QNWINFO:\s*"([^"]+)","([^"]+)","([^"]+)",(\d+)`)
	cregPattern    = regexp.MustCompile(`\+CREG:\s*\d+,(\d+)`)
	ceregPattern   = regexp.MustCompile(`\+CEREG:\s*\d+,(\d+)`)
	qgdcntPattern  = regexp.MustCompile(`\+QGDCNT:\s*(\d+),(\d+)`)
	cgpaddrPattern = regexp.MustCompile(`\+CGPADDR:\s*1,"([^"]+)"`)
	copsPattern    = regexp.MustCompile(`\+COPS:\s*\d+,\d+,"([^"]+)"`)
)

// RSSIUnknown is recorded when the modem reports CSQ 99, meaning it cannot
// measure signal strength.
const RSSIUnknown = -999

// Registration states reported by CREG/CEREG.
const (
	RegStatusRegistered = "REGISTERED"
	RegStatusSearching  = "SEARCHING"
	RegStatusDenied     = "DENIED"
	RegStatusRoaming    = "ROAMING"
	RegStatusUnknown    = "UNKNOWN"
)

// Connection states derived from the CREG answer.
const (
	ConnectionStateConnected    = "CONNECTED"
	ConnectionStateDisconnected = "DISCONNECTED"
)

var registrationNames = map[int]string{
	1: RegStatusRegistered,
	2: RegStatusSearching,
	3: RegStatusDenied,
	5: RegStatusRoaming,
}

func registrationName(stat int) string {
	if name, ok := registrationNames[stat]; ok {
		return name
	}

	return RegStatusUnknown
}

// isAttached reports whether a registration stat means the modem has a usable
// network: registered on the home network or roaming.
func isAttached(stat int) bool {
	return stat == 1 || stat == 5
}

// parseSignalQuality extracts RSSI and BER from an AT+CSQ answer. The raw
// CSQ value 0..31 maps to -113..-51 dBm in 2 dBm steps; 99 means unknown.
// A raw BER of 99 also means unknown and is recorded as 0.
func parseSignalQuality(resp string) (rssiDBm int, ber int, ok bool) {
	m := csqPattern.FindStringSubmatch(resp)
	if m == nil {
		return 0, 0, false
	}

	raw, _ := strconv.Atoi(m[1])
	ber, _ = strconv.Atoi(m[2])

	if raw == 99 {
		rssiDBm = RSSIUnknown
	} else {
		rssiDBm = -113 + raw*2
	}
	if ber == 99 {
		ber = 0
	}

	return rssiDBm, ber, true
}

// parseNetworkInfo extracts access technology, operator, band and channel
// from an AT+QNWINFO answer.
func parseNetworkInfo(resp string) (mode, operator, band string, earfcn int, ok bool) {
	m := qnwinfoPattern.FindStringSubmatch(resp)
	if m == nil {
		return "", "", "", 0, false
	}

	earfcn, _ = strconv.Atoi(m[4])

	return m[1], m[2], m[3], earfcn, true
}

// parseRegistration extracts the <stat> field from an AT+CREG? or AT+CEREG?
// answer. eps selects the CEREG form.
func parseRegistration(resp string, eps bool) (stat int, ok bool) {
	pattern := cregPattern
	if eps {
		pattern = ceregPattern
	}

	m := pattern.FindStringSubmatch(resp)
	if m == nil {
		return 0, false
	}

	stat, _ = strconv.Atoi(m[1])

	return stat, true
}

// parseDataCounters extracts the packet counters from an AT+QGDCNT? answer.
// The modem reports sent bytes first, then received bytes.
func parseDataCounters(resp string) (txBytes, rxBytes int64, ok bool) {
	m := qgdcntPattern.FindStringSubmatch(resp)
	if m == nil {
		return 0, 0, false
	}

	txBytes, _ = strconv.ParseInt(m[1], 10, 64)
	rxBytes, _ = strconv.ParseInt(m[2], 10, 64)

	return txBytes, rxBytes, true
}

// parseIPAddress extracts the PDP context 1 address from an AT+CGPADDR=1
// answer.
func parseIPAddress(resp string) (ip string, ok bool) {
	m := cgpaddrPattern.FindStringSubmatch(resp)
	if m == nil {
		return "", false
	}

	return m[1], true
}

// parseOperator extracts the long operator name from an AT+COPS? answer. It
// is preferred over the QNWINFO operator field when both are present.
func parseOperator(resp string) (operator string, ok bool) {
	m := copsPattern.FindStringSubmatch(resp)
	if m == nil {
		return "", false
	}

	return m[1], true
}
