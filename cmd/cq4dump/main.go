// Copyright 2024 cq4core authors.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Command cq4dump decodes a CQ4 container to indented JSON, one object per
// decoded message.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	cq4core "github.com/chanchunyinjohnny/cq4core"
	"github.com/chanchunyinjohnny/cq4core/log"
)

var (
	schemaDir       string
	encodingFlag    string
	includeMetadata bool
	strict          bool
)

func main() {
	root := &cobra.Command{
		Use:   "cq4dump <file.cq4>",
		Short: "Decode a CQ4 container's excerpts to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	root.Flags().StringVar(&schemaDir, "schema-dir", "", "directory of .java/.class schema definitions to load before decoding")
	root.Flags().StringVar(&encodingFlag, "encoding", "auto", "force a decoder: auto, wire, sbe, compact_tagged")
	root.Flags().BoolVar(&includeMetadata, "include-metadata", false, "also emit metadata excerpts")
	root.Flags().BoolVar(&strict, "strict", false, "treat unknown type codes and field ids as fatal")

	if err := root.Execute(); err != nil {
		if derr, ok := err.(*cq4core.Error); ok {
			fmt.Fprintln(os.Stderr, derr)
			os.Exit(derr.Kind.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	baseLogger := log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelInfo))
	logger := log.NewHelper(baseLogger)

	enc, err := parseEncoding(encodingFlag)
	if err != nil {
		return newConfigErr(err)
	}

	var registry *cq4core.SchemaRegistry
	if schemaDir != "" {
		registry, err = loadSchemaDir(schemaDir, logger)
		if err != nil {
			return err
		}
	}

	session, err := cq4core.Open(args[0], &cq4core.Options{
		EncodingOverride: enc,
		IncludeMetadata:  includeMetadata,
		Strict:           strict,
		Registry:         registry,
		Logger:           baseLogger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	enc2 := json.NewEncoder(os.Stdout)
	enc2.SetIndent("", "  ")

	it := session.Iter(includeMetadata)
	for {
		ex, ok := it.Next()
		if !ok {
			break
		}
		msg, err := session.Decode(ex)
		if err != nil {
			logger.Errorf("decode failed at index %d: %v", ex.Index, err)
			if strict {
				return err
			}
			continue
		}
		if err := enc2.Encode(msg); err != nil {
			return err
		}
	}
	return it.Err()
}

func parseEncoding(s string) (cq4core.EncodingHint, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return cq4core.EncodingAuto, nil
	case "wire", "self_describing_wire":
		return cq4core.EncodingSelfDescribingWire, nil
	case "sbe":
		return cq4core.EncodingSBE, nil
	case "compact_tagged", "compacttagged":
		return cq4core.EncodingCompactTagged, nil
	default:
		return 0, fmt.Errorf("unrecognized --encoding value %q", s)
	}
}

func newConfigErr(cause error) error {
	return &cq4core.Error{Kind: cq4core.KindConfig, ByteOffsetInPayload: -1, Message: cause.Error(), Cause: cause}
}

// loadSchemaDir walks dir for .java and .class schema files, registering
// every schema found. Java source files take priority: the registry's
// source-wins rule means a .class file is safely loaded even when a
// matching .java file describes the same class.
func loadSchemaDir(dir string, logger *log.Helper) (*cq4core.SchemaRegistry, error) {
	registry := cq4core.NewSchemaRegistry()

	var javaFiles, classFiles []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".java":
			javaFiles = append(javaFiles, path)
		case ".class":
			classFiles = append(classFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, &cq4core.Error{Kind: cq4core.KindIO, Message: "cannot walk schema directory", Cause: err}
	}

	for _, path := range javaFiles {
		src, err := os.ReadFile(path)
		if err != nil {
			logger.Errorf("skipping %s: %v", path, err)
			continue
		}
		defs, _, err := cq4core.ParseClassSource(string(src))
		if err != nil {
			logger.Errorf("skipping %s: %v", path, err)
			continue
		}
		for _, def := range defs {
			if err := registry.Register(def); err != nil {
				return nil, err
			}
		}
	}

	for _, path := range classFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Errorf("skipping %s: %v", path, err)
			continue
		}
		def, innerNames, err := cq4core.ParseClassBytecode(data)
		if err != nil {
			logger.Errorf("skipping %s: %v", path, err)
			continue
		}
		if err := registry.Register(def); err != nil {
			return nil, err
		}
		siblingDir := filepath.Dir(path)
		for _, inner := range cq4core.LoadBytecodeSiblings(siblingDir, innerNames, os.ReadFile) {
			if err := registry.Register(inner); err != nil {
				return nil, err
			}
		}
	}

	if err := registry.Freeze(); err != nil {
		return nil, err
	}
	return registry, nil
}
