// Command schema writes the JSON schema of qman job files, editors use it to validate
// and complete jobs.yml. Run with go run ./app/jobfile/internal/schema [--out=file] [--version=v].
package main

import (
	"encoding/json"
	"fmt"
	"os"

	log "github.com/go-pkgz/lgr"
	"github.com/umputun/go-flags"

	"github.com/umputun/qman/app/jobfile"
)

type options struct {
	Out     string `short:"o" long:"out" default:"jobs.schema.json" description:"output file, - for stdout"`
	Version string `long:"version" default:"1" description:"schema version written to $comment"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}

	data, err := generate(opts.Version)
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}

	if opts.Out == "-" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(opts.Out, data, 0o644); err != nil { //nolint:gosec // published schema
		log.Fatalf("[ERROR] can't write %s: %v", opts.Out, err)
	}
	log.Printf("[INFO] job file schema v%s written to %s", opts.Version, opts.Out)
}

// generate makes indented schema with the version stamped into its comment
func generate(version string) ([]byte, error) {
	schema := jobfile.Schema()
	schema.Comments = fmt.Sprintf("qman job file, schema version %s", version)
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("can't marshal schema: %w", err)
	}
	return data, nil
}
