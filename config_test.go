package datastore

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewSimpleRecencyAllocatorFromYAMLBuildsWiredAllocator(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	data := []byte(fmt.Sprintf(`
mem_limit: 1048576
device_limit: 16777216
policy: lru
retain: false
file:
  mountpoint: %s
  directory: %s
  filters: [zstd, blake3]
`, dir, dir))

	a, err := NewSimpleRecencyAllocatorFromYAML(data, gobSerializer{}, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, a)

	cap1, err := a.Capacity(CpuRam)
	require.NoError(t, err)
	require.Equal(t, uint64(1048576), cap1)
}

func TestNewSimpleRecencyAllocatorFromYAMLRejectsUnknownPolicy(t *testing.T) {
	t.Parallel()

	data := []byte(`
mem_limit: 10
device_limit: 10
policy: bogus
file:
  mountpoint: /tmp
  directory: /tmp
`)
	_, err := NewSimpleRecencyAllocatorFromYAML(data, gobSerializer{}, zerolog.Nop())
	require.ErrorAs(t, err, new(*InvalidConfigError))
}

func TestBuildFiltersRequiresAgePassphrase(t *testing.T) {
	t.Parallel()

	_, err := buildFilters([]string{"age"}, FileDeviceYAMLConfig{})
	require.ErrorAs(t, err, new(*InvalidConfigError))

	filters, err := buildFilters([]string{"age"}, FileDeviceYAMLConfig{AgePassphrase: "s3cr3t"})
	require.NoError(t, err)
	require.Len(t, filters, 1)
}

func TestBuildFiltersRejectsUnknownName(t *testing.T) {
	t.Parallel()

	_, err := buildFilters([]string{"rot13"}, FileDeviceYAMLConfig{})
	require.ErrorAs(t, err, new(*InvalidConfigError))
}

func TestBuildFiltersOrderMatchesInput(t *testing.T) {
	t.Parallel()

	filters, err := buildFilters([]string{"zstd", "lz4", "snappy", "blake3"}, FileDeviceYAMLConfig{})
	require.NoError(t, err)
	require.Equal(t, []string{"zstd", "lz4", "snappy", "blake3-checksum"}, []string{
		filters[0].Name, filters[1].Name, filters[2].Name, filters[3].Name,
	})
}
