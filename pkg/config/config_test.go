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

package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/airlink/pkg/constants"
)

// writeConfig drops a config file into a fresh temp dir and returns its path.
func writeConfig(content string) string {
	path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
	Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())

	return path
}

var _ = Describe("Load", func() {
	Context("without a config file", func() {
		It("returns the built-in defaults", func() {
			cfg, err := Load("")

			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.DataDir).To(Equal(constants.DefaultDataDir))
			Expect(cfg.MetricsPort).To(Equal(constants.DefaultMetricsPort))
			Expect(cfg.Debug).To(BeFalse())
			Expect(cfg.Cellular.Enabled).To(BeTrue())
			Expect(cfg.Cellular.AutoStart).To(BeFalse())
			Expect(cfg.Cellular.Port).To(Equal(constants.DefaultCellularPort))
			Expect(cfg.Cellular.Tick.AsDuration()).To(Equal(constants.DefaultCellularTick))
			Expect(cfg.Cellular.Device).To(Equal(constants.DefaultSerialDevice))
			Expect(cfg.Cellular.BaudRate).To(Equal(constants.DefaultSerialBaudRate))
			Expect(cfg.Satellite.Enabled).To(BeTrue())
			Expect(cfg.Satellite.Port).To(Equal(constants.DefaultSatellitePort))
			Expect(cfg.Satellite.Tick.AsDuration()).To(Equal(constants.DefaultSatelliteTick))
			Expect(cfg.Satellite.Address).To(Equal(constants.DefaultDishAddress))
		})

		It("treats a missing file like no file at all", func() {
			cfg, err := Load(filepath.Join(GinkgoT().TempDir(), "absent.yaml"))

			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Cellular.Port).To(Equal(constants.DefaultCellularPort))
		})
	})

	Context("with a config file", func() {
		It("merges file values over the defaults", func() {
			cfg, err := Load(writeConfig(`
dataDir: /mnt/flightdata
debug: true
cellular:
  port: 9001
  tick: 2s
  device: /dev/ttyUSB7
satellite:
  enabled: false
`))

			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.DataDir).To(Equal("/mnt/flightdata"))
			Expect(cfg.Debug).To(BeTrue())
			Expect(cfg.Cellular.Port).To(Equal(9001))
			Expect(cfg.Cellular.Tick.AsDuration()).To(Equal(2 * time.Second))
			Expect(cfg.Cellular.Device).To(Equal("/dev/ttyUSB7"))
			Expect(cfg.Satellite.Enabled).To(BeFalse())

			// Keys the file does not mention keep their defaults.
			Expect(cfg.Cellular.BaudRate).To(Equal(constants.DefaultSerialBaudRate))
			Expect(cfg.Satellite.Port).To(Equal(constants.DefaultSatellitePort))
		})

		It("accepts bare integers as second counts", func() {
			cfg, err := Load(writeConfig(`
cellular:
  tick: 30
  rotateInterval: 1200
`))

			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Cellular.Tick.AsDuration()).To(Equal(30 * time.Second))
			Expect(cfg.Cellular.RotateInterval.AsDuration()).To(Equal(20 * time.Minute))
		})

		It("rejects an unparsable file", func() {
			_, err := Load(writeConfig(`dataDir: [oops`))

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
		})

		It("rejects an unparsable duration", func() {
			_, err := Load(writeConfig(`
cellular:
  tick: fast
`))

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("invalid duration"))
		})
	})

	Context("with environment overrides", func() {
		It("lets the environment beat the file", func() {
			GinkgoT().Setenv("AIRLINK_CELLULAR_PORT", "9100")
			GinkgoT().Setenv("AIRLINK_SATELLITE_ENABLED", "false")

			cfg, err := Load(writeConfig(`
cellular:
  port: 9001
`))

			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Cellular.Port).To(Equal(9100))
			Expect(cfg.Satellite.Enabled).To(BeFalse())
		})

		It("parses tick overrides as durations or bare seconds", func() {
			GinkgoT().Setenv("AIRLINK_CELLULAR_TICK", "250ms")
			GinkgoT().Setenv("AIRLINK_SATELLITE_TICK", "7")

			cfg, err := Load("")

			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Cellular.Tick.AsDuration()).To(Equal(250 * time.Millisecond))
			Expect(cfg.Satellite.Tick.AsDuration()).To(Equal(7 * time.Second))
		})

		It("forces mock mode from the environment", func() {
			GinkgoT().Setenv("AIRLINK_CELLULAR_FORCE_MOCK", "true")

			cfg, err := Load("")

			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Cellular.ForceMock).To(BeTrue())
			Expect(cfg.Satellite.ForceMock).To(BeFalse())
		})

		It("switches auto-start on from the environment", func() {
			GinkgoT().Setenv("AIRLINK_SATELLITE_AUTO_START", "true")

			cfg, err := Load("")

			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Satellite.AutoStart).To(BeTrue())
			Expect(cfg.Cellular.AutoStart).To(BeFalse())
		})
	})

	Context("validation", func() {
		It("rejects two collectors on the same port", func() {
			_, err := Load(writeConfig(`
cellular:
  port: 8899
`))

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("cannot share port"))
		})

		It("rejects a zero tick on an enabled collector", func() {
			_, err := Load(writeConfig(`
cellular:
  tick: 0
`))

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("tick must be positive"))
		})

		It("skips validation of a disabled collector", func() {
			cfg, err := Load(writeConfig(`
satellite:
  enabled: false
  tick: 0
  port: 0
`))

			Expect(err).ToNot(HaveOccurred())
			Expect(cfg.Satellite.Enabled).To(BeFalse())
		})

		It("rejects ports outside the valid range", func() {
			_, err := Load(writeConfig(`
satellite:
  port: 70000
`))

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("out of range"))
		})
	})

	Context("derived values", func() {
		It("converts the size threshold to bytes", func() {
			Expect(Default().Cellular.MaxFileBytes()).To(Equal(int64(30 * 1024 * 1024)))
		})

		It("gives each collector its own data directory", func() {
			cfg := Default()
			cfg.DataDir = "/mnt/flightdata"

			Expect(cfg.CellularDataDir()).To(Equal("/mnt/flightdata/lte_module"))
			Expect(cfg.SatelliteDataDir()).To(Equal("/mnt/flightdata/starlink"))
		})
	})
})
