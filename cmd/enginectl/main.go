// Command enginectl is an operator smoke-test tool for the storage engine:
// it wires up a SimpleRecencyAllocator from flags, runs put/get/drop against
// it, and reports resource utilization. It is an ambient operational
// convenience, not part of the engine's core contract.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	datastore "github.com/divoxx/storageengine"
)

type rawBytes []byte

func (b rawBytes) RawBytes() []byte { return []byte(b) }

type byteSerializer struct{}

func (byteSerializer) Encode(w io.Writer, v datastore.Value) error {
	b, ok := v.(rawBytes)
	if !ok {
		return fmt.Errorf("enginectl: value is not a byte buffer")
	}
	_, err := w.Write(b)
	return err
}

func (byteSerializer) Decode(r io.Reader) (datastore.Value, error) {
	b, err := io.ReadAll(r)
	return rawBytes(b), err
}

func (byteSerializer) DecodeRaw(raw []byte) (datastore.Value, error) {
	return rawBytes(raw), nil
}

func main() {
	var (
		directory   string
		memLimit    uint64
		deviceLimit uint64
		policy      string
		payload     string
	)

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:   "enginectl",
		Short: "Exercise the storage engine against a configured recency allocator",
	}
	root.PersistentFlags().StringVar(&directory, "directory", "", "directory backing the lower (file) tier")
	root.PersistentFlags().Uint64Var(&memLimit, "mem-limit", 1<<20, "memory tier byte limit")
	root.PersistentFlags().Uint64Var(&deviceLimit, "device-limit", 1<<24, "device tier byte limit")
	root.PersistentFlags().StringVar(&policy, "policy", "lru", "eviction policy: lru or mru")

	build := func() (*datastore.SimpleRecencyAllocator, error) {
		if directory == "" {
			var err error
			directory, err = os.MkdirTemp("", "enginectl-*")
			if err != nil {
				return nil, err
			}
		}
		p, err := datastore.ParseEvictionPolicy(policy)
		if err != nil {
			return nil, err
		}
		lower, err := datastore.NewSerializationFileDevice(datastore.FileDeviceConfig{
			Resource:  datastore.FilesystemResource{Mountpoint: directory},
			Directory: directory,
		}, byteSerializer{}, logger)
		if err != nil {
			return nil, err
		}
		return datastore.NewSimpleRecencyAllocator(datastore.RecencyAllocatorConfig{
			MemLimit:    memLimit,
			DeviceLimit: deviceLimit,
			Upper:       datastore.NewCpuRamDevice(),
			Lower:       lower,
			Policy:      p,
		}, logger)
	}

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Put, get, and drop a sample payload, then print allocator stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			allocator, err := build()
			if err != nil {
				return err
			}
			engine := datastore.NewEngine(allocator, logger)
			ctx := context.Background()

			value := rawBytes(payload)
			if err := engine.Put(ctx, 1, uint64(len(value)), value); err != nil {
				return err
			}
			got, err := engine.Get(ctx, 1)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "get returned: %q\n", string(got.(rawBytes)))

			if err := engine.Drop(ctx, 1); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "hits=%d misses=%d evicts=%d\n",
				allocator.Stats.Hits.Load(), allocator.Stats.Misses.Load(), allocator.Stats.Evicts.Load())
			return nil
		},
	}
	demoCmd.Flags().StringVar(&payload, "payload", "hello, storage engine", "bytes to round-trip")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print resource capacity/available/utilized for a freshly built allocator",
		RunE: func(cmd *cobra.Command, args []string) error {
			allocator, err := build()
			if err != nil {
				return err
			}
			for _, r := range allocator.Resources() {
				cap, _ := allocator.Capacity(r)
				avail, _ := allocator.Available(r)
				used, _ := allocator.Utilized(r)
				fmt.Fprintf(cmd.OutOrStdout(), "%s: capacity=%d available=%d utilized=%d\n", r.Name(), cap, avail, used)
			}
			return nil
		},
	}

	root.AddCommand(demoCmd, statsCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
