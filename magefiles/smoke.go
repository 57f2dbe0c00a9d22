//go:build mage

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const smokeSchema = `type: target
fields:
  targetType:
    type: string
    required: true
    enum: [vehicle, building, person, smoke]
  location:
    type: object
    required: true
    properties:
      lat: {type: number, required: true}
      lon: {type: number, required: true}
  status:
    type: string
    enum: [pending, engaged, destroyed]
    default: pending
`

// Smoke builds the binary and drives init, create, update, list, history,
// and delete against a scratch directory.
//
//	mage smoke --keep
func Smoke() error {
	var keep bool
	fs := flag.NewFlagSet("smoke", flag.ContinueOnError)
	fs.BoolVar(&keep, "keep", false, "keep the scratch directory")
	parseTargetFlags(fs)

	mg.Deps(Build)

	dir, err := os.MkdirTemp("", "c2store-smoke-")
	if err != nil {
		return err
	}
	if keep {
		fmt.Println("scratch:", dir)
	} else {
		defer os.RemoveAll(dir)
	}

	schemaDir := filepath.Join(dir, "schemas")
	if err := os.MkdirAll(schemaDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(schemaDir, "target.yaml"), []byte(smokeSchema), 0o644); err != nil {
		return err
	}

	bin, err := filepath.Abs(filepath.Join(binaryDir, binaryName))
	if err != nil {
		return err
	}
	run := func(args ...string) (string, error) {
		full := append([]string{
			"--config-dir", filepath.Join(dir, "config"),
			"--data-dir", filepath.Join(dir, "data"),
			"--schema-dir", schemaDir,
			"--json",
		}, args...)
		return sh.Output(bin, full...)
	}

	if _, err := run("init"); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	out, err := run("create", "target", "--actor", "smoke",
		"--data", `{"targetType":"vehicle","location":{"lat":34.1,"lon":-117.2}}`)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	var rec struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		return fmt.Errorf("decode create output: %w", err)
	}

	steps := [][]string{
		{"update", rec.ID, "--version", "1", "--data", `{"status":"engaged"}`},
		{"list", "target", "status=engaged"},
		{"history", rec.ID},
		{"delete", rec.ID},
	}
	for _, step := range steps {
		if _, err := run(step...); err != nil {
			return fmt.Errorf("%s: %w", step[0], err)
		}
	}
	if _, err := run("get", rec.ID); err == nil {
		return fmt.Errorf("get after delete succeeded")
	}

	fmt.Println("smoke ok")
	return nil
}
