package datastore

import (
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// FileDeviceYAMLConfig is the on-disk shape of a file device's options, as
// described in spec.md §6.
type FileDeviceYAMLConfig struct {
	Mountpoint string   `yaml:"mountpoint"`
	Directory  string   `yaml:"directory"`
	Filters    []string `yaml:"filters"`
	AgePassphrase string `yaml:"age_passphrase,omitempty"`
}

// RecencyAllocatorYAMLConfig is the on-disk shape of SimpleRecencyAllocator's
// options, as described in spec.md §6.
type RecencyAllocatorYAMLConfig struct {
	MemLimit    uint64 `yaml:"mem_limit"`
	DeviceLimit uint64 `yaml:"device_limit"`
	Policy      string `yaml:"policy"`
	Retain      bool   `yaml:"retain"`
	File        FileDeviceYAMLConfig `yaml:"file"`
}

// buildFilters resolves filter names from config into FilterPair values, in
// the order given - see FilterPair's doc comment for what that order means
// on disk.
func buildFilters(names []string, cfg FileDeviceYAMLConfig) ([]FilterPair, error) {
	filters := make([]FilterPair, 0, len(names))
	for _, name := range names {
		switch name {
		case "zstd":
			filters = append(filters, ZstdFilter())
		case "lz4":
			filters = append(filters, LZ4Filter())
		case "snappy":
			filters = append(filters, SnappyFilter())
		case "blake3":
			filters = append(filters, BLAKE3ChecksumFilter())
		case "age":
			if cfg.AgePassphrase == "" {
				return nil, &InvalidConfigError{Field: "file.age_passphrase", Reason: "required when \"age\" filter is enabled"}
			}
			filters = append(filters, AgeFilter(cfg.AgePassphrase))
		default:
			return nil, &InvalidConfigError{Field: "file.filters", Reason: fmt.Sprintf("unknown filter %q", name)}
		}
	}
	return filters, nil
}

// NewSerializationFileDeviceFromYAML builds a file device from a parsed
// FileDeviceYAMLConfig.
func NewSerializationFileDeviceFromYAML(cfg FileDeviceYAMLConfig, serializer Serializer, logger zerolog.Logger) (*SerializationFileDevice, error) {
	filters, err := buildFilters(cfg.Filters, cfg)
	if err != nil {
		return nil, err
	}
	return NewSerializationFileDevice(FileDeviceConfig{
		Resource:  FilesystemResource{Mountpoint: cfg.Mountpoint},
		Directory: cfg.Directory,
		Filters:   filters,
	}, serializer, logger)
}

// NewSimpleRecencyAllocatorFromYAML parses data as a
// RecencyAllocatorYAMLConfig, builds its upper (CpuRamDevice) and lower
// (SerializationFileDevice) devices, and returns the fully wired allocator.
func NewSimpleRecencyAllocatorFromYAML(data []byte, serializer Serializer, logger zerolog.Logger) (*SimpleRecencyAllocator, error) {
	var cfg RecencyAllocatorYAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("storageengine: parsing allocator config: %w", err)
	}

	policy, err := ParseEvictionPolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}

	lower, err := NewSerializationFileDeviceFromYAML(cfg.File, serializer, logger)
	if err != nil {
		return nil, err
	}

	return NewSimpleRecencyAllocator(RecencyAllocatorConfig{
		MemLimit:    cfg.MemLimit,
		DeviceLimit: cfg.DeviceLimit,
		Upper:       NewCpuRamDevice(),
		Lower:       lower,
		Policy:      policy,
		Retain:      cfg.Retain,
	}, logger)
}
