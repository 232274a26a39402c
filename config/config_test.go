package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/shmtype"
	"gosuda.org/shmtype/config"
)

const sample = `
store: /tmp/shmtype
services:
  - name: camera/frames
    user_header:
      type_name: Meta
      size: 16
      alignment: 8
    payload:
      type_name: Pixel
      variant: dynamic
      size: 4
      alignment: 4
  - name: scenario
    header:
      type_name: i32
      size: 4
      alignment: 4
    user_header:
      type_name: bool
      size: 1
      alignment: 1
    payload:
      type_name: i64
      variant: Dynamic
      size: 8
      alignment: 8
`

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/shmtype", cfg.Store)
	require.Len(t, cfg.Services, 2)

	svc, err := cfg.Lookup("camera/frames")
	require.NoError(t, err)
	d, err := svc.Details()
	require.NoError(t, err)

	assert.Equal(t, shmtype.HeaderTypeDetail(), d.Header)
	assert.Equal(t, shmtype.TypeDetail{Variant: shmtype.FixedSize, TypeName: "Meta", Size: 16, Alignment: 8}, d.UserHeader)
	assert.Equal(t, shmtype.TypeDetail{Variant: shmtype.Dynamic, TypeName: "Pixel", Size: 4, Alignment: 4}, d.Payload)
}

func TestScenarioLayout(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	require.NoError(t, err)
	svc, err := cfg.Lookup("scenario")
	require.NoError(t, err)
	d, err := svc.Details()
	require.NoError(t, err)

	assert.Equal(t, uintptr(4), d.UserHeaderOffset(0))
	assert.Equal(t, uintptr(8), d.PayloadOffset(0))
	l, err := d.SampleLayout(2)
	require.NoError(t, err)
	assert.Equal(t, shmtype.Layout{Size: 32, Align: 8}, l)
}

func TestDefaultUserHeader(t *testing.T) {
	cfg, err := config.Parse([]byte(`
services:
  - name: plain
    payload: {type_name: u64, size: 8, alignment: 8}
`))
	require.NoError(t, err)
	d, err := cfg.Services[0].Details()
	require.NoError(t, err)

	assert.Equal(t, shmtype.TypeDetailOf[shmtype.NoUserHeader](shmtype.FixedSize), d.UserHeader)
	assert.Equal(t, shmtype.FixedSize, d.Payload.Variant)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"missing_name", `
services:
  - payload: {type_name: u8, size: 1, alignment: 1}
`, config.ErrMissingName},
		{"duplicate", `
services:
  - name: a
    payload: {type_name: u8, size: 1, alignment: 1}
  - name: a
    payload: {type_name: u8, size: 1, alignment: 1}
`, config.ErrDuplicateService},
		{"missing_payload", `
services:
  - name: a
`, config.ErrMissingPayload},
		{"alignment", `
services:
  - name: a
    payload: {type_name: u8, size: 1, alignment: 3}
`, shmtype.ErrInvalidAlignment},
		{"dynamic_user_header", `
services:
  - name: a
    user_header: {type_name: u8, variant: dynamic, size: 1, alignment: 1}
    payload: {type_name: u8, size: 1, alignment: 1}
`, shmtype.ErrInvalidVariant},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tc.yaml))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParseRejectsUnknownInput(t *testing.T) {
	_, err := config.Parse([]byte("services:\n  - name: a\n    payloud: {}\n"))
	assert.Error(t, err)

	_, err = config.Parse([]byte("services:\n  - name: a\n    payload: {type_name: u8, variant: union, size: 1, alignment: 1}\n"))
	assert.Error(t, err)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Services)

	_, err = cfg.Lookup("anything")
	assert.ErrorIs(t, err, config.ErrUnknownService)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Services, 2)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
