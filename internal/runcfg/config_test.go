package runcfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const continuousConfig = `
sds_path: /data/sds
download_type: continuous
num_processes: 4
gap_tolerance: 120

credentials:
  open: "anon:guest"
  AU: "user:pass"
  AU.CMSA: "sta-user:sta-pass"

waveform:
  client: "https://service.example.org"
  channel_pref: [BHZ, HHZ]
  location_pref: ["", "00"]
  days_per_request: 2

station:
  client: "https://service.example.org"
  network: "AU"
  station: "*"
  channel: "BH?"
  start: 2023-06-01T00:00:00Z
  end: 2023-07-01T00:00:00Z
  geo:
    latitude: -31.5
    longitude: 145.2
    max_radius: 5
`

func TestLoadContinuous(t *testing.T) {
	cfg, err := Load(writeConfig(t, continuousConfig))
	require.NoError(t, err)

	assert.Equal(t, "/data/sds", cfg.SDSPath)
	assert.Equal(t, filepath.Join("/data/sds", "database.sqlite"), cfg.DBPath,
		"db_path defaults under the archive root")
	assert.Equal(t, DownloadContinuous, cfg.DownloadType)
	assert.Equal(t, 4, cfg.NumProcesses)
	assert.Equal(t, 120*time.Second, cfg.GapToleranceDuration())
	assert.Equal(t, "sta-user:sta-pass", cfg.Credentials["AU.CMSA"])
	assert.Equal(t, 2, cfg.Waveform.DaysPerRequest)
	assert.Equal(t, []string{"BHZ", "HHZ"}, cfg.Waveform.ChannelPref)
	assert.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), cfg.Station.Start)
	assert.Equal(t, 5.0, cfg.Station.Geo.MaxRadius)
}

func TestLoadEventDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
sds_path: /data/sds
download_type: event
event:
  client: "https://service.example.org"
  start: 2023-01-01
  end: 2023-12-31
  min_magnitude: 5.5
  before_p_sec: 60
  after_p_sec: 600
`))
	require.NoError(t, err)
	assert.Equal(t, "iasp91", cfg.Event.Model, "travel-time model defaults to iasp91")
	assert.Equal(t, 1, cfg.Waveform.DaysPerRequest)
	assert.Equal(t, 60*time.Second, cfg.GapToleranceDuration())
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Event.Start,
		"bare dates are accepted")
	assert.Equal(t, 5.5, cfg.Event.MinMagnitude)
}

func TestLoadRejectsMissingSDSPath(t *testing.T) {
	_, err := Load(writeConfig(t, `download_type: continuous`))
	require.Error(t, err)
	assert.True(t, ErrConfig.Has(err))
}

func TestLoadRejectsBadDownloadType(t *testing.T) {
	_, err := Load(writeConfig(t, `
sds_path: /data/sds
download_type: streaming
`))
	require.Error(t, err)
	assert.True(t, ErrConfig.Has(err))
}

func TestLoadRejectsInvertedStationWindow(t *testing.T) {
	_, err := Load(writeConfig(t, `
sds_path: /data/sds
download_type: continuous
station:
  start: 2023-07-01T00:00:00Z
  end: 2023-06-01T00:00:00Z
`))
	require.Error(t, err)
	assert.True(t, ErrConfig.Has(err))
}

func TestLoadRejectsMalformedCredentialKey(t *testing.T) {
	_, err := Load(writeConfig(t, `
sds_path: /data/sds
download_type: continuous
credentials:
  ".CMSA": "user:pass"
station:
  start: 2023-06-01T00:00:00Z
  end: 2023-07-01T00:00:00Z
`))
	require.Error(t, err)
	assert.True(t, ErrConfig.Has(err))
}

func TestValidateRejectsNegativeEventWindow(t *testing.T) {
	cfg := Config{
		SDSPath:      "/data/sds",
		DownloadType: DownloadEvent,
		Waveform:     WaveformConfig{DaysPerRequest: 1},
		Event:        EventConfig{BeforePSec: -1},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, ErrConfig.Has(err))
}
