package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/nicktill/impact/pkg/client"
	"github.com/nicktill/impact/pkg/config"
)

func runPush(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("push", flag.ContinueOnError)
	fs.SetOutput(stdout)
	serverURL := fs.String("server", "http://localhost:"+config.DefaultPort, "impact server base URL")
	apiKey := fs.String("api-key", os.Getenv("IMPACT_API_KEY"), "bearer token sent to the server")
	format := fs.String("format", "", "instrument layout")
	file := fs.String("file", "", "workbook to upload")
	idType := fs.String("id-type", "", "identifier grammar: traverse or csv")
	runName := fs.String("run", "", "archive name (default: chosen by the server)")
	sheets := sheetFlags{}
	fs.Var(sheets, "sheet", "delimited file for one named sheet, as name=path (repeatable)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *format == "" {
		return errors.New("-format is required")
	}

	c, err := client.New(*serverURL, *apiKey)
	if err != nil {
		return err
	}

	result, err := c.Ingest(context.Background(), client.Upload{
		Format: *format,
		IDType: *idType,
		Run:    *runName,
		File:   *file,
		Sheets: sheets,
	})
	if err != nil {
		if client.IsConflict(err) {
			return fmt.Errorf("rejected, nothing was archived: %w", err)
		}
		return err
	}

	fmt.Fprintf(stdout, "run %s: %d readings, %d new replicate trials (%s)\n",
		result.Run, result.Readings, result.ReplicateTrials, result.Duration)
	return nil
}
