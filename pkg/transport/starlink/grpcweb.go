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

package starlink

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the SpaceX.API.Device protocol. The terminal rejects gRPC
// reflection, so the messages are built and walked with protowire instead of
// generated stubs; the numbers match the Handle method's Request and Response
// messages as the dish's own frontend uses them.
const (
	fieldRequestGetStatus   protowire.Number = 1004
	fieldRequestGetLocation protowire.Number = 1017

	fieldResponseGetLocation   protowire.Number = 1017
	fieldResponseDishGetStatus protowire.Number = 2004

	fieldStatusDeviceInfo       protowire.Number = 1
	fieldStatusDeviceState      protowire.Number = 2
	fieldStatusState            protowire.Number = 3
	fieldStatusPopPingDropRate  protowire.Number = 1001
	fieldStatusDownlinkBps      protowire.Number = 1002
	fieldStatusUplinkBps        protowire.Number = 1003
	fieldStatusPopPingLatencyMs protowire.Number = 1006
	fieldStatusSNR              protowire.Number = 1007
	fieldStatusFirstSlotSeconds protowire.Number = 1008
	fieldStatusAzimuthDeg       protowire.Number = 1009
	fieldStatusStowRequested    protowire.Number = 1010
	fieldStatusElevationDeg     protowire.Number = 1011

	fieldDeviceInfoID       protowire.Number = 1
	fieldDeviceInfoHardware protowire.Number = 2
	fieldDeviceInfoSoftware protowire.Number = 3

	fieldDeviceStateUptimeS protowire.Number = 1

	fieldLocationLLA protowire.Number = 1
	fieldLLALat      protowire.Number = 1
	fieldLLALon      protowire.Number = 2
	fieldLLAAlt      protowire.Number = 3
)

// dishStateNames maps the DishState enum to the names recorded in samples.
var dishStateNames = map[uint64]string{
	0: StateUnknown,
	1: StateConnected,
	2: StateSearching,
	3: StateBooting,
}

// encodeStatusRequest builds the frame carrying Request{get_status: {}}.
func encodeStatusRequest() []byte {
	var request []byte
	request = protowire.AppendTag(request, fieldRequestGetStatus, protowire.BytesType)
	request = protowire.AppendBytes(request, nil)

	return frameRequest(request)
}

// encodeLocationRequest builds the frame carrying Request{get_location: {}}.
func encodeLocationRequest() []byte {
	var request []byte
	request = protowire.AppendTag(request, fieldRequestGetLocation, protowire.BytesType)
	request = protowire.AppendBytes(request, nil)

	return frameRequest(request)
}

// frameRequest wraps protobuf bytes in a gRPC-Web data frame: a zero
// compression flag, the message length as a big-endian uint32, then the
// message itself.
func frameRequest(message []byte) []byte {
	frame := make([]byte, 0, len(message)+5)
	frame = append(frame, 0)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(message)))

	return append(frame, message...)
}

// splitFrames walks a gRPC-Web response body. Data frames carry the protobuf
// answer, the trailer frame (flag 0x80) carries the status line.
func splitFrames(body []byte) (payload []byte, trailer string, err error) {
	for len(body) > 0 {
		if len(body) < 5 {
			return nil, "", fmt.Errorf("truncated frame header (%d bytes left)", len(body))
		}

		flag := body[0]
		length := binary.BigEndian.Uint32(body[1:5])
		body = body[5:]
		if uint64(len(body)) < uint64(length) {
			return nil, "", fmt.Errorf("frame declares %d bytes, %d available", length, len(body))
		}

		chunk := body[:length]
		body = body[length:]

		if flag&0x80 != 0 {
			trailer = string(chunk)

			continue
		}
		if payload == nil {
			payload = chunk
		}
	}

	return payload, trailer, nil
}

// grpcStatus resolves the call status. Trailers-only answers put it in the
// HTTP headers, normal answers in the trailer frame; absence means OK.
func grpcStatus(header http.Header, trailer string) (code int, message string) {
	if v := header.Get("Grpc-Status"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n, header.Get("Grpc-Message")
		}
	}

	for _, line := range strings.Split(trailer, "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "grpc-status":
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				code = n
			}
		case "grpc-message":
			message = strings.TrimSpace(value)
		}
	}

	return code, message
}

// dishStatus is the subset of DishGetStatusResponse the collector records.
// Newer firmware adds fields past the ones listed here; they are skipped.
type dishStatus struct {
	ID              string
	HardwareVersion string
	SoftwareVersion string
	UptimeS         int64
	State           string
	StowRequested   bool

	DownlinkThroughputBps float64
	UplinkThroughputBps   float64
	PopPingDropRate       float64
	PopPingLatencyMs      float64
	SNR                   float64
	FirstSlotSeconds      float64
	AzimuthDeg            float64
	ElevationDeg          float64
}

// dishLocation is the LLA position from a GetLocationResponse.
type dishLocation struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// decodeStatus walks a Response down to the dish status answer.
func decodeStatus(payload []byte) (*dishStatus, error) {
	body, err := messageField(payload, fieldResponseDishGetStatus)
	if err != nil {
		return nil, fmt.Errorf("walk Response: %w", err)
	}
	if body == nil {
		return nil, fmt.Errorf("answer carries no dish status field")
	}

	status := &dishStatus{State: StateUnknown}
	err = walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldStatusDeviceInfo && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}

			return n, status.readDeviceInfo(v)
		case num == fieldStatusDeviceState && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}

			return n, status.readDeviceState(v)
		case num == fieldStatusState && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			if name, ok := dishStateNames[v]; ok {
				status.State = name
			}

			return n, nil
		case num == fieldStatusStowRequested && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			status.StowRequested = v != 0

			return n, nil
		case num == fieldStatusFirstSlotSeconds && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			status.FirstSlotSeconds = float64(v)

			return n, nil
		case num == fieldStatusPopPingDropRate && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			status.PopPingDropRate = math.Float64frombits(v)

			return n, nil
		case typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			value := float64(math.Float32frombits(v))
			switch num {
			case fieldStatusDownlinkBps:
				status.DownlinkThroughputBps = value
			case fieldStatusUplinkBps:
				status.UplinkThroughputBps = value
			case fieldStatusPopPingLatencyMs:
				status.PopPingLatencyMs = value
			case fieldStatusSNR:
				status.SNR = value
			case fieldStatusAzimuthDeg:
				status.AzimuthDeg = value
			case fieldStatusElevationDeg:
				status.ElevationDeg = value
			}

			return n, nil
		}

		return 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk dish status: %w", err)
	}

	return status, nil
}

func (s *dishStatus) readDeviceInfo(body []byte) error {
	return walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}

		switch num {
		case fieldDeviceInfoID:
			s.ID = string(v)
		case fieldDeviceInfoHardware:
			s.HardwareVersion = string(v)
		case fieldDeviceInfoSoftware:
			s.SoftwareVersion = string(v)
		}

		return n, nil
	})
}

func (s *dishStatus) readDeviceState(body []byte) error {
	return walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == fieldDeviceStateUptimeS && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			s.UptimeS = int64(v)

			return n, nil
		}

		return 0, nil
	})
}

// decodeLocation walks a Response down to the LLA position.
func decodeLocation(payload []byte) (*dishLocation, error) {
	response, err := messageField(payload, fieldResponseGetLocation)
	if err != nil {
		return nil, fmt.Errorf("walk Response: %w", err)
	}
	if response == nil {
		return nil, fmt.Errorf("answer carries no location field")
	}

	lla, err := messageField(response, fieldLocationLLA)
	if err != nil {
		return nil, fmt.Errorf("walk GetLocationResponse: %w", err)
	}
	if lla == nil {
		return nil, fmt.Errorf("answer carries no position")
	}

	location := &dishLocation{}
	err = walkFields(lla, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.Fixed64Type {
			return 0, nil
		}

		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}

		switch num {
		case fieldLLALat:
			location.Latitude = math.Float64frombits(v)
		case fieldLLALon:
			location.Longitude = math.Float64frombits(v)
		case fieldLLAAlt:
			location.Altitude = math.Float64frombits(v)
		}

		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk LLA: %w", err)
	}

	return location, nil
}

// walkFields iterates b's fields, handing each tag and the bytes after it to
// visit. visit reports how many value bytes it consumed; zero means the field
// is not of interest and is skipped generically.
func walkFields(b []byte, visit func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		consumed, err := visit(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if consumed == 0 {
			consumed = protowire.ConsumeFieldValue(num, typ, b)
			if consumed < 0 {
				return fmt.Errorf("skip field %d: %w", num, protowire.ParseError(consumed))
			}
		}
		b = b[consumed:]
	}

	return nil
}

// messageField returns the bytes of the first length-delimited field num in
// b, nil when the field is absent.
func messageField(b []byte, num protowire.Number) ([]byte, error) {
	for len(b) > 0 {
		fieldNum, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		if fieldNum == num && typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return nil, protowire.ParseError(m)
			}

			return v, nil
		}

		m := protowire.ConsumeFieldValue(fieldNum, typ, b)
		if m < 0 {
			return nil, protowire.ParseError(m)
		}
		b = b[m:]
	}

	return nil, nil
}
