// Command verity builds hash trees over files
// and verifies files against them.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gordian-engine/verity"
	"github.com/gordian-engine/verity/vgeom"
	"github.com/gordian-engine/verity/vhash"
	"github.com/gordian-engine/verity/vhash/vsha256"
	"github.com/gordian-engine/verity/vhash/vsha512"
	"github.com/gordian-engine/verity/vstore/vldb"
	"github.com/gordian-engine/verity/vtree"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "verity",
		Short: "Build and verify Merkle hash trees over files",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var (
		storePath string
		blockSize int
		pageSize  int
		algorithm string
	)

	buildCmd := &cobra.Command{
		Use:   "build FILE",
		Short: "Hash a file into a tree store and print the root hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(args[0], storePath, blockSize, pageSize, algorithm)
		},
	}
	buildCmd.Flags().StringVar(&storePath, "store", "", "directory for the tree store (required)")
	buildCmd.Flags().IntVar(&blockSize, "block-size", 4096, "tree block size in bytes (power of two)")
	buildCmd.Flags().IntVar(&pageSize, "page-size", 4096, "tree page size in bytes (power of two)")
	buildCmd.Flags().StringVar(&algorithm, "hash", "sha256", "digest algorithm: sha256 or sha512")
	_ = buildCmd.MarkFlagRequired("store")

	verifyCmd := &cobra.Command{
		Use:   "verify FILE",
		Short: "Verify a file against a previously built tree store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(args[0], storePath)
		},
	}
	verifyCmd.Flags().StringVar(&storePath, "store", "", "directory of the tree store (required)")
	_ = verifyCmd.MarkFlagRequired("store")

	rootCmd.AddCommand(buildCmd, verifyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func hasherForName(name string) (vhash.BlockHasher, error) {
	switch name {
	case "sha256":
		return vsha256.Hasher{}, nil
	case "sha512":
		return vsha512.Hasher{}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", name)
	}
}

func runBuild(filePath, storePath string, blockSize, pageSize int, algorithm string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	if len(data) == 0 {
		return errors.New("refusing to build a tree over an empty file")
	}

	h, err := hasherForName(algorithm)
	if err != nil {
		return err
	}

	g, err := vgeom.NewGeometry(vgeom.Config{
		DataSize:  uint64(len(data)),
		BlockSize: blockSize,
		PageSize:  pageSize,
		Hasher:    h,
	})
	if err != nil {
		return err
	}

	store, err := vldb.Open(storePath, vldb.Config{PageSize: pageSize})
	if err != nil {
		return err
	}
	defer store.Close()

	root, err := vtree.Build(data, g, store)
	if err != nil {
		return err
	}

	if err := store.SaveParams(vldb.Params{
		DataSize:  uint64(len(data)),
		BlockSize: blockSize,
		PageSize:  pageSize,
		Algorithm: algorithm,
		RootHash:  root,
	}); err != nil {
		return err
	}

	fmt.Printf("%s:%s\n", algorithm, hex.EncodeToString(root))
	return nil
}

func runVerify(filePath, storePath string) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	params, store, err := openStore(storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	h, err := hasherForName(params.Algorithm)
	if err != nil {
		return err
	}

	g, err := vgeom.NewGeometry(vgeom.Config{
		DataSize:  params.DataSize,
		BlockSize: params.BlockSize,
		PageSize:  params.PageSize,
		Hasher:    h,
		RootHash:  params.RootHash,
	})
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	if uint64(len(data)) != params.DataSize {
		return fmt.Errorf(
			"file is %d bytes but the tree covers %d", len(data), params.DataSize,
		)
	}

	v := verity.NewVerifier(log, verity.VerifierConfig{
		Geometry: g,
		Store:    store,
	})

	// Feed the file through in block-aligned runs,
	// zero-padding the final partial block
	// the same way the tree builder did.
	const runBlocks = 256
	bs := params.BlockSize
	run := make([]byte, runBlocks*bs)
	var pos uint64
	for off := 0; off < len(data); off += len(run) {
		n := copy(run, data[off:])
		clear(run[n:])
		runLen := ((n + bs - 1) / bs) * bs

		if err := v.VerifyBlocks(run[:runLen], pos); err != nil {
			var ce *verity.CorruptionError
			if errors.As(err, &ce) {
				return fmt.Errorf("verification FAILED: %w", ce)
			}
			return err
		}
		pos += uint64(runLen)
	}

	fmt.Println("OK")
	return nil
}

func openStore(storePath string) (vldb.Params, *vldb.Store, error) {
	// The page size lives inside the params,
	// but the store needs it at open time;
	// open with a placeholder, read params, then reopen properly.
	probe, err := vldb.Open(storePath, vldb.Config{PageSize: 4096})
	if err != nil {
		return vldb.Params{}, nil, err
	}
	params, err := probe.LoadParams()
	if err != nil {
		probe.Close()
		return vldb.Params{}, nil, err
	}
	if params.PageSize == 4096 {
		return params, probe, nil
	}
	if err := probe.Close(); err != nil {
		return vldb.Params{}, nil, err
	}

	store, err := vldb.Open(storePath, vldb.Config{PageSize: params.PageSize})
	if err != nil {
		return vldb.Params{}, nil, err
	}
	return params, store, nil
}
